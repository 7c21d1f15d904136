package coretools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/harun/stepwise/pkg/browser"
	"github.com/harun/stepwise/pkg/capability"
)

// DefaultWikipediaEndpoint is the English Wikipedia MediaWiki API.
const DefaultWikipediaEndpoint = "https://en.wikipedia.org/w/api.php"

// WikipediaSearchTool searches Wikipedia and returns the plain text of the
// best match.
type WikipediaSearchTool struct {
	Client   *http.Client
	Endpoint string
}

// WikipediaResult is the tool output.
type WikipediaResult struct {
	Success       bool   `json:"success"`
	Title         string `json:"title,omitempty"`
	SearchResults string `json:"search_results"`
}

func (t *WikipediaSearchTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		ToolID:      WikipediaToolID,
		Name:        "Wikipedia search tool",
		Description: "Tool for searching wikipedia.",
		InputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "query", Type: "string", Description: "Search query", Required: true},
			capability.Parameter{
				Name:        "max_length_of_response",
				Type:        "integer",
				Description: "Maximum number of characters of page content to return",
				Default:     defaultMaxRespLength,
			},
		),
		OutputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "success", Type: "boolean", Required: true},
			capability.Parameter{Name: "title", Type: "string"},
			capability.Parameter{Name: "search_results", Type: "string", Required: true},
		),
		Metadata:      map[string]string{},
		ExampleInputs: capability.Examples(map[string]any{"query": "Alan Turing"}, map[string]any{"query": "Washington"}),
	}
}

func (t *WikipediaSearchTool) Run(ctx context.Context, input map[string]any) (any, error) {
	query := stringInput(input, "query")
	limit := intInput(input, "max_length_of_response", defaultMaxRespLength)

	var search struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	err := t.get(ctx, url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {"5"},
	}, &search)
	if err != nil {
		return nil, err
	}
	if len(search.Query.Search) == 0 {
		return WikipediaResult{Success: false}, nil
	}
	title := search.Query.Search[0].Title

	var pages struct {
		Query struct {
			Pages []struct {
				Title   string `json:"title"`
				Extract string `json:"extract"`
				Missing bool   `json:"missing"`
			} `json:"pages"`
		} `json:"query"`
	}
	err = t.get(ctx, url.Values{
		"action":      {"query"},
		"prop":        {"extracts"},
		"explaintext": {"1"},
		"redirects":   {"1"},
		"titles":      {title},
	}, &pages)
	if err != nil {
		return nil, err
	}
	if len(pages.Query.Pages) == 0 || pages.Query.Pages[0].Missing {
		return WikipediaResult{Success: false, Title: title}, nil
	}

	page := pages.Query.Pages[0]
	text, _ := browser.Truncate(page.Extract, limit)
	return WikipediaResult{Success: true, Title: page.Title, SearchResults: text}, nil
}

func (t *WikipediaSearchTool) get(ctx context.Context, params url.Values, out any) error {
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = DefaultWikipediaEndpoint
	}
	params.Set("format", "json")
	params.Set("formatversion", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build wikipedia request: %w", err)
	}
	return fetchJSON(t.Client, req, "wikipedia", out)
}
