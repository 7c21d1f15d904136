package coretools

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/harun/stepwise/pkg/capability"
	"golang.org/x/net/html"
)

// DefaultSearchEndpoint is the DuckDuckGo HTML results page.
const DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"

const defaultSearchResults = 5

// SearchEngineTool runs a web search and returns titles, links and snippets.
type SearchEngineTool struct {
	Client   *http.Client
	Endpoint string
}

// SearchResult is one hit.
type SearchResult struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
}

// SearchResponse is the tool output.
type SearchResponse struct {
	Success       bool           `json:"success"`
	SearchResults []SearchResult `json:"search_results"`
}

func (t *SearchEngineTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		ToolID:      SearchEngineToolID,
		Name:        "Search Engine",
		Description: "Tool for performing web search using engine that indexed most of the world's data. Returns search results with title, link and short description.",
		InputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "query", Type: "string", Description: "Search query to search for in the search engine", Required: true},
			capability.Parameter{
				Name:        "max_results",
				Type:        "integer",
				Description: "Maximum number of search results to return",
				Default:     defaultSearchResults,
			},
		),
		OutputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "success", Type: "boolean", Required: true},
			capability.Parameter{Name: "search_results", Type: "array", Items: "object", Description: "Search engine result items", Required: true},
		),
		Metadata: map[string]string{
			"comments": "Each result should be checked by fetching the page content and extracting the relevant information. " +
				"This tool is not responsible for the accuracy of the search results.",
		},
		ExampleInputs: capability.Examples(
			map[string]any{"query": "Go programming language"},
			map[string]any{"query": "Places to visit in the USA"},
		),
	}
}

func (t *SearchEngineTool) Run(ctx context.Context, input map[string]any) (any, error) {
	query := strings.TrimSpace(stringInput(input, "query"))
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	limit := intInput(input, "max_results", defaultSearchResults)
	if limit <= 0 {
		limit = defaultSearchResults
	}

	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = DefaultSearchEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+url.Values{"q": {query}}.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	body, err := fetch(t.Client, req, "search engine")
	if err != nil {
		return nil, err
	}
	results, err := parseSearchResults(body, limit)
	if err != nil {
		return nil, err
	}
	return SearchResponse{Success: len(results) > 0, SearchResults: results}, nil
}

// parseSearchResults reads result__a anchors and their result__snippet from
// a DuckDuckGo HTML page. Sponsored links are skipped.
func parseSearchResults(page []byte, limit int) ([]SearchResult, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	results := []SearchResult{}
	var current *SearchResult
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				if current != nil {
					results = append(results, *current)
					if len(results) == limit {
						return false
					}
				}
				current = nil
				if link := resultLink(attr(n, "href")); link != "" {
					current = &SearchResult{Title: nodeText(n), Link: link}
				}
				return true
			case hasClass(n, "result__snippet"):
				if current != nil {
					current.Description = nodeText(n)
				}
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	if walk(doc) && current != nil && len(results) < limit {
		results = append(results, *current)
	}
	return results, nil
}

// resultLink unwraps the /l/?uddg= redirect. Ad redirects yield "".
func resultLink(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return ""
	}
	if !strings.HasSuffix(u.Host, "duckduckgo.com") {
		return href
	}
	if u.Path == "/l/" {
		return u.Query().Get("uddg")
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
