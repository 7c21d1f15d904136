// Package browser fetches rendered page content with a headless Chromium
// driven over the DevTools protocol.
package browser

import (
	"fmt"
	"time"
)

// Config configures an Extractor.
type Config struct {
	Headless   bool   `json:"headless" mapstructure:"headless"`
	NoSandbox  bool   `json:"no_sandbox" mapstructure:"no_sandbox"`
	ChromePath string `json:"chrome_path" mapstructure:"chrome_path"`
	// ControlURL attaches to a running browser instead of launching one.
	ControlURL string         `json:"control_url" mapstructure:"control_url"`
	Timeout    time.Duration  `json:"timeout" mapstructure:"timeout"`
	Security   SecurityConfig `json:"security" mapstructure:"security"`
}

// SecurityConfig restricts which URLs may be opened.
type SecurityConfig struct {
	AllowFileURLs      bool     `json:"allow_file_urls" mapstructure:"allow_file_urls"`
	AllowLocalhostURLs bool     `json:"allow_localhost_urls" mapstructure:"allow_localhost_urls"`
	AllowedDomains     []string `json:"allowed_domains" mapstructure:"allowed_domains"`
	BlockedDomains     []string `json:"blocked_domains" mapstructure:"blocked_domains"`
}

// DefaultConfig returns a headless configuration with a 30s timeout.
func DefaultConfig() Config {
	return Config{Headless: true, Timeout: 30 * time.Second}
}

// Page is the extracted content of one URL.
type Page struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Error is a classified browser failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNavigation      = "NAVIGATION_ERROR"
	ErrCodeTimeout         = "TIMEOUT_ERROR"
	ErrCodeScriptExecution = "SCRIPT_EXECUTION_ERROR"
	ErrCodeSecurity        = "SECURITY_ERROR"
	ErrCodeBrowserCrash    = "BROWSER_CRASH"
)
