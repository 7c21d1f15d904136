package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/harun/stepwise/pkg/reasoning"
)

// ParseArgument decodes raw as exactly one JSON object. A surrounding
// fenced code block is accepted. The canonical compact encoding is returned
// alongside the decoded object.
func ParseArgument(raw string) (map[string]any, string, error) {
	body := reasoning.StripFences(strings.TrimSpace(raw))
	if body == "" {
		return nil, "", fmt.Errorf("%w: empty", ErrMalformedArgument)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedArgument, err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, "", fmt.Errorf("%w: expected a JSON object, got %s", ErrMalformedArgument, jsonKind(value))
	}

	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("%w: more than one JSON value", ErrMalformedArgument)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedArgument, err)
	}
	return obj, buf.String(), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
