package capability

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// compiledSchema pairs a compiled schema with the top-level defaults it
// declares.
type compiledSchema struct {
	schema   *gojsonschema.Schema
	defaults map[string]any
}

func compileSchema(raw json.RawMessage) (*compiledSchema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema is not a JSON object: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}

	defaults := map[string]any{}
	if props, ok := doc["properties"].(map[string]any); ok {
		for name, p := range props {
			prop, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if def, ok := prop["default"]; ok {
				defaults[name] = def
			}
		}
	}
	return &compiledSchema{schema: schema, defaults: defaults}, nil
}

// applyDefaults fills absent top-level properties in place.
func (c *compiledSchema) applyDefaults(input map[string]any) {
	if c == nil {
		return
	}
	for name, def := range c.defaults {
		if _, ok := input[name]; !ok {
			input[name] = def
		}
	}
}

// validate returns the schema problems for value, nil when it conforms.
func (c *compiledSchema) validate(value any) ([]string, error) {
	if c == nil {
		return nil, nil
	}
	var loader gojsonschema.JSONLoader
	switch v := value.(type) {
	case json.RawMessage:
		loader = gojsonschema.NewBytesLoader(v)
	case []byte:
		loader = gojsonschema.NewBytesLoader(v)
	default:
		loader = gojsonschema.NewGoLoader(value)
	}
	result, err := c.schema.Validate(loader)
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return problems, nil
}

// coerceObject turns a bus payload into a fresh JSON object. Everything goes
// through an encode/decode pass so executors always see JSON-native types.
func coerceObject(payload any) (map[string]any, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		return map[string]any{}, nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("payload of type %T is not JSON encodable: %w", payload, err)
		}
		raw = b
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
