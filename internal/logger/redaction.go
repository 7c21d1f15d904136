package logger

import (
	"io"
	"regexp"
	"sync"
)

const redacted = "[REDACTED]"

// Redactor masks credentials before log lines reach a writer.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
}

// NewRedactor returns a redactor preloaded with the provider key formats the
// reasoning backends use plus generic bearer and password fields.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{20,}`),
			regexp.MustCompile(`sk-or-v1-[A-Za-z0-9]{20,}`),
			regexp.MustCompile(`sk-(proj-)?[A-Za-z0-9_\-]{20,}`),
			regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
			regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-+/=]+`),
			regexp.MustCompile(`(?i)"?(api_key|apikey|shared_secret|password|token)"?\s*[:=]\s*"[^"]*"`),
		},
	}
}

// AddPattern registers an extra expression to mask.
func (r *Redactor) AddPattern(expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.patterns = append(r.patterns, re)
	r.mu.Unlock()
	return nil
}

// Redact replaces every match with a fixed marker.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// Wrap returns a writer that redacts each write before forwarding it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{next: w, r: r}
}

type redactingWriter struct {
	next io.Writer
	r    *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.next.Write([]byte(w.r.Redact(string(p)))); err != nil {
		return 0, err
	}
	// Report the original length; zerolog treats short writes as errors.
	return len(p), nil
}
