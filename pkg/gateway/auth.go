package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Authenticator checks the shared secret on inbound requests. An empty
// secret disables authentication.
type Authenticator struct {
	sharedSecret string
}

// NewAuthenticator creates an authenticator for sharedSecret.
func NewAuthenticator(sharedSecret string) *Authenticator {
	return &Authenticator{sharedSecret: sharedSecret}
}

// Enabled reports whether a secret is configured.
func (a *Authenticator) Enabled() bool {
	return a.sharedSecret != ""
}

// Token extracts the presented credential: a bearer Authorization header, or
// the access_token query parameter for websocket clients that cannot set
// headers.
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// Verify compares token to the secret in constant time.
func (a *Authenticator) Verify(token string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.sharedSecret)) == 1
}

// Middleware rejects requests without the shared secret.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Verify(Token(r)) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="stepwise"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
