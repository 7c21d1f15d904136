package browser

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardCheck(t *testing.T) {
	tests := []struct {
		name     string
		config   SecurityConfig
		url      string
		wantCode string
	}{
		{name: "valid https url", url: "https://example.com"},
		{name: "file url blocked", url: "file:///etc/passwd", wantCode: ErrCodeSecurity},
		{name: "file url allowed", config: SecurityConfig{AllowFileURLs: true}, url: "file:///tmp/test.html"},
		{name: "localhost blocked", url: "http://localhost:8080", wantCode: ErrCodeSecurity},
		{name: "localhost allowed", config: SecurityConfig{AllowLocalhostURLs: true}, url: "http://localhost:8080"},
		{name: "loopback blocked", url: "http://127.0.0.1:8080", wantCode: ErrCodeSecurity},
		{name: "ipv6 loopback blocked", url: "http://[::1]:8080/", wantCode: ErrCodeSecurity},
		{
			name:   "domain in allowed list",
			config: SecurityConfig{AllowedDomains: []string{"example.com"}},
			url:    "https://example.com/page",
		},
		{
			name:     "domain not in allowed list",
			config:   SecurityConfig{AllowedDomains: []string{"example.com"}},
			url:      "https://other.com/page",
			wantCode: ErrCodeSecurity,
		},
		{
			name:     "blocked domain",
			config:   SecurityConfig{BlockedDomains: []string{"*.ads.example"}},
			url:      "https://tracker.ads.example/x",
			wantCode: ErrCodeSecurity,
		},
		{
			name:   "subdomain pattern",
			config: SecurityConfig{AllowedDomains: []string{".wikipedia.org"}},
			url:    "https://en.wikipedia.org/wiki/Go",
		},
		{name: "unsupported scheme", url: "ftp://example.com", wantCode: ErrCodeValidation},
		{name: "not a url", url: "example", wantCode: ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewGuard(tt.config, zerolog.Nop()).Check(tt.url)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			var berr *Error
			require.ErrorAs(t, err, &berr)
			assert.Equal(t, tt.wantCode, berr.Code)
		})
	}
}

func TestMatchDomain(t *testing.T) {
	assert.True(t, matchDomain("example.com", "example.com"))
	assert.True(t, matchDomain("a.example.com", "*.example.com"))
	assert.True(t, matchDomain("example.com", "*.example.com"))
	assert.False(t, matchDomain("badexample.com", "*.example.com"))
	assert.True(t, matchDomain("a.b.example.com", ".example.com"))
	assert.False(t, matchDomain("example.org", "example.com"))
}
