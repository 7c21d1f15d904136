package coretools

import (
	"context"

	"github.com/harun/stepwise/pkg/capability"
)

// PageContentExtractionTool renders a page in a headless browser and returns
// its visible text.
type PageContentExtractionTool struct {
	Extractor PageExtractor
}

func (t *PageContentExtractionTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		ToolID:      PageContentToolID,
		Name:        "Page Content Extraction",
		Description: "Tool for extracting content from the page. Returns the visible text of the rendered page.",
		InputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "link", Type: "string", Description: "Link to the page to extract content from", Required: true},
			capability.Parameter{Name: "max_length_of_response", Type: "integer", Description: "Maximum number of characters to return", Default: 8000},
		),
		OutputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "url", Type: "string", Required: true},
			capability.Parameter{Name: "title", Type: "string", Required: true},
			capability.Parameter{Name: "text", Type: "string", Required: true},
			capability.Parameter{Name: "truncated", Type: "boolean"},
		),
		ExampleInputs: capability.Examples(
			map[string]any{"link": "https://en.wikipedia.org/wiki/Go_(programming_language)"},
			map[string]any{"link": "https://go.dev/"},
		),
	}
}

func (t *PageContentExtractionTool) Run(ctx context.Context, input map[string]any) (any, error) {
	page, err := t.Extractor.Extract(ctx, stringInput(input, "link"), intInput(input, "max_length_of_response", 8000))
	if err != nil {
		return nil, err
	}
	return page, nil
}
