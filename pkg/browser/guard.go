package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Guard checks URLs against a SecurityConfig before navigation.
type Guard struct {
	config SecurityConfig
	logger zerolog.Logger
}

// NewGuard creates a guard.
func NewGuard(config SecurityConfig, logger zerolog.Logger) *Guard {
	return &Guard{config: config, logger: logger}
}

// Check returns a SECURITY_ERROR or VALIDATION_ERROR when raw may not be
// opened.
func (g *Guard) Check(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf("invalid url: %q", raw)}
	}

	switch u.Scheme {
	case "http", "https":
	case "file":
		if !g.config.AllowFileURLs {
			return g.deny("file_url_blocked", raw, "file:// urls are not allowed")
		}
		return nil
	default:
		return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf("url has no host: %q", raw)}
	}
	if isLocalhost(host) && !g.config.AllowLocalhostURLs {
		return g.deny("localhost_url_blocked", raw, "localhost urls are not allowed")
	}
	if len(g.config.AllowedDomains) > 0 && !matchAny(host, g.config.AllowedDomains) {
		return g.deny("domain_not_allowed", raw, "domain not in allowed list: "+host)
	}
	if matchAny(host, g.config.BlockedDomains) {
		return g.deny("domain_blocked", raw, "domain is blocked: "+host)
	}
	return nil
}

func (g *Guard) deny(violation, raw, msg string) error {
	g.logger.Warn().Str("violation", violation).Str("url", raw).Msg("Browser url rejected")
	return &Error{Code: ErrCodeSecurity, Message: msg}
}

func isLocalhost(host string) bool {
	return host == "localhost" ||
		host == "::1" ||
		host == "0.0.0.0" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasSuffix(host, ".localhost")
}

func matchAny(host string, patterns []string) bool {
	for _, p := range patterns {
		if matchDomain(host, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// matchDomain supports exact hosts, "*.example.com" and ".example.com".
func matchDomain(host, pattern string) bool {
	switch {
	case host == pattern:
		return true
	case strings.HasPrefix(pattern, "*."):
		suffix := pattern[2:]
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	case strings.HasPrefix(pattern, "."):
		return host == pattern[1:] || strings.HasSuffix(host, pattern)
	}
	return false
}
