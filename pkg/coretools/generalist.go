package coretools

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/stepwise/pkg/agent"
	"github.com/harun/stepwise/pkg/capability"
	"github.com/harun/stepwise/pkg/reasoning"
)

// GeneralistTool answers a prompt directly with the reasoning model.
type GeneralistTool struct {
	Completer   reasoning.Completer
	Model       string
	Temperature float64
}

func (t *GeneralistTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		ToolID:      GeneralistToolID,
		Name:        "Generalist Tool",
		Description: "A generalized tool that takes query from the user as prompt, and answers the question step by step to the best of its ability.",
		InputSchema: capability.ObjectSchema(
			capability.Parameter{
				Name:        "prompt",
				Type:        "string",
				Description: "The prompt that includes query from the user to guide the agent to generate response (Examples: 'Describe this image in detail')",
				Required:    true,
			},
			capability.Parameter{
				Name:        "persona_type",
				Type:        "string",
				Description: "Persona type that the agent should adopt (Examples: 'Expert', 'Generalist', 'Researcher')",
			},
		),
		OutputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "response", Type: "string", Description: "The generated response to the original query prompt", Required: true},
		),
		Metadata: map[string]string{
			"limitation": "The GeneralistTool may provide hallucinated or incorrect responses.",
			"best_practice": "Use the GeneralistTool for general queries or tasks that don't require specialized knowledge or specific tools in the toolbox. " +
				"Provide clear, specific prompts. Break complex queries into subtasks and use the tool multiple times. " +
				"Verify important information from its responses.",
		},
		ExampleInputs: capability.Examples(
			map[string]any{"prompt": "Summarize given text in 3 sentences <TEXT>", "persona_type": "Generalist"},
			map[string]any{"prompt": "Extract most important financial information from text below <TEXT>", "persona_type": "Financial Expert"},
		),
	}
}

func (t *GeneralistTool) Run(ctx context.Context, input map[string]any) (any, error) {
	persona := strings.TrimSpace(stringInput(input, "persona_type"))
	if persona == "" {
		persona = "Generalist"
	}
	resp, err := t.Completer.Complete(ctx, agent.LLMRequest{
		Model:        t.Model,
		SystemPrompt: fmt.Sprintf("Act as a %s.", persona),
		Messages:     []agent.Message{agent.UserText(stringInput(input, "prompt"))},
		Temperature:  t.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"response": resp.Content}, nil
}
