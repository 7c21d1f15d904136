package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedReply is returned when a structured reply holds no decodable
// JSON object.
var ErrMalformedReply = errors.New("malformed reasoning reply")

// decodeReply extracts the JSON object from content, tolerating code fences
// and surrounding prose, and decodes it into v.
func decodeReply(content string, v any) error {
	body := StripFences(strings.TrimSpace(content))
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: no json object in %q", ErrMalformedReply, truncate(content, 120))
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return nil
}

// StripFences removes a surrounding markdown code fence and its language
// tag. Unfenced input is returned unchanged.
func StripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
