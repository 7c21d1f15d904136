package coretools

import (
	"context"

	"github.com/harun/stepwise/pkg/capability"
)

// EchoTool returns its text input unchanged.
type EchoTool struct{}

func (EchoTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		ToolID:      EchoToolID,
		Name:        "Echo Tool",
		Description: "Returns the given text unchanged. Useful for testing and for repeating a prepared answer.",
		InputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		),
		OutputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "text", Type: "string", Required: true},
		),
		ExampleInputs: capability.Examples(map[string]any{"text": "hello"}),
	}
}

func (EchoTool) Run(_ context.Context, input map[string]any) (any, error) {
	return map[string]any{"text": stringInput(input, "text")}, nil
}
