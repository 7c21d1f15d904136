package coretools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/harun/stepwise/pkg/capability"
)

// News endpoints.
const (
	DefaultNewsFetchEndpoint = "https://ok.surf/api/v1/news-section"
	DefaultNewsAPIEndpoint   = "https://api.thenewsapi.com/v1/news/all"
)

const (
	defaultNewsResults  = 3
	defaultNewsLookback = 7
)

var (
	newsFetchSections = []string{"US", "World", "Business", "Technology", "Entertainment", "Sports", "Science", "Health"}
	newsAPISections   = []string{"general", "science", "sports", "business", "health", "entertainment", "tech", "politics", "food", "travel"}
)

// NewsItem is one article.
type NewsItem struct {
	Title      string `json:"title"`
	Link       string `json:"link"`
	Source     string `json:"source,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
	Image      string `json:"og,omitempty"`
	SourceIcon string `json:"source_icon,omitempty"`
}

// NewsResponse maps each section to its articles.
type NewsResponse struct {
	Success       bool                  `json:"success"`
	SearchResults map[string][]NewsItem `json:"search_results"`
}

func newsOutputSchema() json.RawMessage {
	return capability.ObjectSchema(
		capability.Parameter{Name: "success", Type: "boolean", Required: true},
		capability.Parameter{Name: "search_results", Type: "object", Description: "News feed items keyed by section", Required: true},
	)
}

// sectionsInput reads the sections list, rejecting names outside allowed.
// Matching ignores case and returns the canonical spelling.
func sectionsInput(input map[string]any, allowed []string) ([]string, error) {
	raw, _ := input["sections"].([]any)
	var out []string
	for _, v := range raw {
		name, _ := v.(string)
		i := slices.IndexFunc(allowed, func(s string) bool { return strings.EqualFold(s, strings.TrimSpace(name)) })
		if i < 0 {
			return nil, fmt.Errorf("unknown section %q (available: %s)", name, strings.Join(allowed, ", "))
		}
		if !slices.Contains(out, allowed[i]) {
			out = append(out, allowed[i])
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one section is required")
	}
	return out, nil
}

// NewsFetchTool reads Google News sections through the ok.surf feed.
type NewsFetchTool struct {
	Client   *http.Client
	Endpoint string
}

func (t *NewsFetchTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		ToolID:      NewsFetchToolID,
		Name:        "News section fetcher",
		Description: "Fetch current Google News headlines for sections such as World, Sports and Science.",
		InputSchema: capability.ObjectSchema(
			capability.Parameter{
				Name:        "sections",
				Type:        "array",
				Items:       "string",
				Description: "Sections to fetch news from, available sections: " + strings.Join(newsFetchSections, ", "),
				Required:    true,
			},
		),
		OutputSchema: newsOutputSchema(),
		ExampleInputs: capability.Examples(
			map[string]any{"sections": []string{"World"}},
			map[string]any{"sections": []string{"US", "World", "Business", "Technology"}},
		),
	}
}

func (t *NewsFetchTool) Run(ctx context.Context, input map[string]any) (any, error) {
	sections, err := sectionsInput(input, newsFetchSections)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]any{"sections": sections})
	if err != nil {
		return nil, err
	}

	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = DefaultNewsFetchEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build news request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	feed := map[string][]NewsItem{}
	if err := fetchJSON(t.Client, req, "news feed", &feed); err != nil {
		return nil, err
	}
	if feed == nil {
		feed = map[string][]NewsItem{}
	}
	return NewsResponse{Success: true, SearchResults: feed}, nil
}

// NewsAPITool searches recent articles on thenewsapi.com. It needs an API
// token.
type NewsAPITool struct {
	Client   *http.Client
	Endpoint string
	APIKey   string

	now func() time.Time
}

func (t *NewsAPITool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		ToolID:      NewsAPIToolID,
		Name:        "News API Tool",
		Description: "Tool for fetching recent news articles by section, optionally filtered by a search term.",
		InputSchema: capability.ObjectSchema(
			capability.Parameter{
				Name:        "sections",
				Type:        "array",
				Items:       "string",
				Description: "Sections to fetch news from, available sections: " + strings.Join(newsAPISections, ", "),
				Required:    true,
			},
			capability.Parameter{Name: "search_term", Type: "string", Description: "Search term to filter news articles"},
			capability.Parameter{Name: "max_results", Type: "integer", Description: "Maximum number of articles to return", Default: defaultNewsResults},
			capability.Parameter{Name: "days_lookback", Type: "integer", Description: "Number of days to look back for news articles", Default: defaultNewsLookback},
		),
		OutputSchema: newsOutputSchema(),
		Metadata: map[string]string{
			"limitations": "Available sections: " + strings.Join(newsAPISections, ", "),
		},
		ExampleInputs: capability.Examples(
			map[string]any{"sections": []string{"business"}},
			map[string]any{"sections": []string{"business", "tech"}, "search_term": "semiconductors"},
		),
	}
}

func (t *NewsAPITool) Run(ctx context.Context, input map[string]any) (any, error) {
	sections, err := sectionsInput(input, newsAPISections)
	if err != nil {
		return nil, err
	}
	limit := intInput(input, "max_results", defaultNewsResults)
	if limit <= 0 {
		limit = defaultNewsResults
	}

	params := url.Values{
		"api_token":  {t.APIKey},
		"categories": {strings.Join(sections, ",")},
		"limit":      {strconv.Itoa(limit)},
		"language":   {"en"},
	}
	if days := intInput(input, "days_lookback", defaultNewsLookback); days > 0 {
		now := time.Now
		if t.now != nil {
			now = t.now
		}
		params.Set("published_after", now().AddDate(0, 0, -days).Format(time.DateOnly))
	}
	if term := strings.TrimSpace(stringInput(input, "search_term")); term != "" {
		params.Set("search", term)
	}

	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = DefaultNewsAPIEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build news request: %w", err)
	}

	var page struct {
		Data []struct {
			Title      string   `json:"title"`
			URL        string   `json:"url"`
			ImageURL   string   `json:"image_url"`
			Source     string   `json:"source"`
			Snippet    string   `json:"snippet"`
			Categories []string `json:"categories"`
		} `json:"data"`
	}
	if err := fetchJSON(t.Client, req, "news api", &page); err != nil {
		return nil, err
	}

	results := map[string][]NewsItem{}
	for _, a := range page.Data {
		section := sections[0]
		for _, c := range a.Categories {
			if slices.Contains(sections, c) {
				section = c
				break
			}
		}
		results[section] = append(results[section], NewsItem{
			Title:   a.Title,
			Link:    a.URL,
			Source:  a.Source,
			Snippet: a.Snippet,
			Image:   a.ImageURL,
		})
	}
	return NewsResponse{Success: true, SearchResults: results}, nil
}
