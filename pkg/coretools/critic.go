package coretools

import (
	"context"

	"github.com/harun/stepwise/pkg/agent"
	"github.com/harun/stepwise/pkg/capability"
	"github.com/harun/stepwise/pkg/reasoning"
)

const criticPersona = "Act as a Critic of information you receive. Be demanding and strict, but not excessively."

// CriticTool reviews an information set for comprehensiveness, correctness
// and relevance with the reasoning model.
type CriticTool struct {
	Completer   reasoning.Completer
	Model       string
	Temperature float64
}

func (t *CriticTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		ToolID:      CriticToolID,
		Name:        "Critic Tool",
		Description: "Critic tool that takes information set as input and validates it in terms of comprehensiveness, correctness and relevance. It provides feedback about the information set.",
		InputSchema: capability.ObjectSchema(
			capability.Parameter{
				Name:        "information_set",
				Type:        "string",
				Description: "Complete information set that should be validated by the critic tool",
				Required:    true,
			},
		),
		OutputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "feedback", Type: "string", Description: "Feedback about the information set", Required: true},
		),
		Metadata: map[string]string{
			"limitation": "The CriticTool may provide hallucinated or incorrect responses.",
			"recommendation_of_usage": "Use the CriticTool to validate an information set when unsure about it. " +
				"Do not use it to generate new information or to validate information already known to be correct.",
		},
		ExampleInputs: capability.Examples(
			map[string]any{"information_set": "Assess the following information set: <TEXT>"},
			map[string]any{"information_set": "Check the following information set for correctness and relevance: <TEXT>"},
		),
	}
}

func (t *CriticTool) Run(ctx context.Context, input map[string]any) (any, error) {
	prompt := "Validate the following information set in terms of comprehensiveness, correctness and relevance. " +
		"Provide feedback about the information set.\n\nInformation set: " + stringInput(input, "information_set")
	resp, err := t.Completer.Complete(ctx, agent.LLMRequest{
		Model:        t.Model,
		SystemPrompt: criticPersona,
		Messages:     []agent.Message{agent.UserText(prompt)},
		Temperature:  t.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"feedback": resp.Content}, nil
}
