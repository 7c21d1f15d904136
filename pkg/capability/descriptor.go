package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Descriptor is the catalog entry for one tool. The JSON names are the keys
// the reasoning prompts render.
type Descriptor struct {
	ToolID        string            `json:"tool_id"`
	Name          string            `json:"tool_name"`
	Description   string            `json:"tool_description"`
	InputSchema   json.RawMessage   `json:"input_type_json_schema"`
	OutputSchema  json.RawMessage   `json:"output_type_json_schema,omitempty"`
	Metadata      map[string]string `json:"user_metadata,omitempty"`
	ExampleInputs []json.RawMessage `json:"demo_input,omitempty"`
}

// Clone returns a deep copy.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.InputSchema = bytes.Clone(d.InputSchema)
	out.OutputSchema = bytes.Clone(d.OutputSchema)
	out.Metadata = maps.Clone(d.Metadata)
	if d.ExampleInputs != nil {
		out.ExampleInputs = make([]json.RawMessage, len(d.ExampleInputs))
		for i, ex := range d.ExampleInputs {
			out.ExampleInputs[i] = bytes.Clone(ex)
		}
	}
	return out
}

// Parameter is one property of an object schema.
type Parameter struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required" yaml:"required"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	// Items is the element type when Type is array.
	Items string `json:"items,omitempty" yaml:"items,omitempty"`
}

var parameterTypes = []string{"string", "number", "integer", "boolean", "object", "array"}

// Validate checks the name and the JSON Schema types of p.
func (p Parameter) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return errors.New("parameter name cannot be empty")
	case !validParameterType(p.Type):
		return fmt.Errorf("parameter %s: unknown type %q", p.Name, p.Type)
	case p.Items != "" && (p.Type != "array" || !validParameterType(p.Items)):
		return fmt.Errorf("parameter %s: invalid items type %q", p.Name, p.Items)
	}
	return nil
}

// ObjectSchema builds a closed JSON Schema object from params. It returns nil
// when a parameter is invalid or a default cannot be encoded, which Register
// reports as an invalid descriptor.
func ObjectSchema(params ...Parameter) json.RawMessage {
	properties := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		if p.Validate() != nil {
			return nil
		}
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if p.Type == "array" && p.Items != "" {
			prop["items"] = map[string]any{"type": p.Items}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return raw
}

// Examples encodes example inputs for Descriptor.ExampleInputs.
func Examples(inputs ...map[string]any) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(inputs))
	for _, in := range inputs {
		raw, err := json.Marshal(in)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}

func validParameterType(t string) bool {
	return slices.Contains(parameterTypes, t)
}

// Executor runs a tool on validated input. Implementations must leave shared
// state untouched when they fail.
type Executor interface {
	Run(ctx context.Context, input map[string]any) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, input map[string]any) (any, error)

func (f ExecutorFunc) Run(ctx context.Context, input map[string]any) (any, error) {
	return f(ctx, input)
}

// Capability is a self-describing tool.
type Capability interface {
	Executor
	Descriptor() Descriptor
}
