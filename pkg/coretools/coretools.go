// Package coretools provides the builtin capabilities and the loader for
// declarative HTTP tools.
package coretools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harun/stepwise/pkg/browser"
	"github.com/harun/stepwise/pkg/capability"
	"github.com/harun/stepwise/pkg/reasoning"
	"github.com/rs/zerolog"
)

// Builtin tool ids.
const (
	EchoToolID           = "EchoTool"
	WikipediaToolID      = "WikipediaSearchTool"
	SearchEngineToolID   = "SearchEngineTool"
	NewsFetchToolID      = "NewsFetchTool"
	NewsAPIToolID        = "NewsAPITool"
	PageContentToolID    = "PageContentExtractionTool"
	APICallerToolID      = "APICallerTool"
	GeneralistToolID     = "GeneralistTool"
	CriticToolID         = "CriticTool"
	defaultHTTPTimeout   = 30 * time.Second
	defaultMaxRespLength = 2000
)

// BuiltinIDs lists every builtin tool id in registration order.
func BuiltinIDs() []string {
	return []string{
		EchoToolID, WikipediaToolID, SearchEngineToolID, NewsFetchToolID, NewsAPIToolID,
		PageContentToolID, APICallerToolID, GeneralistToolID, CriticToolID,
	}
}

// PageExtractor loads a page and returns its visible text.
type PageExtractor interface {
	Extract(ctx context.Context, rawURL string, maxChars int) (*browser.Page, error)
}

// Registrar accepts capabilities. Both *capability.Registry and
// *engine.Engine satisfy it.
type Registrar interface {
	RegisterCapability(c capability.Capability) error
}

// Options configures the builtin tools.
type Options struct {
	Logger zerolog.Logger
	// Policy filters builtin and manifest tool ids.
	Policy     capability.Policy
	HTTPClient *http.Client
	// WikipediaEndpoint is the MediaWiki api.php url.
	WikipediaEndpoint string
	// SearchEndpoint is the DuckDuckGo HTML search url.
	SearchEndpoint    string
	NewsFetchEndpoint string
	NewsAPIEndpoint   string
	// NewsAPIKey backs NewsAPITool, which is skipped when empty.
	NewsAPIKey string
	// Extractor backs PageContentExtractionTool, which is skipped when nil.
	Extractor PageExtractor
	// Completer backs GeneralistTool and CriticTool, which are skipped when
	// nil.
	Completer   reasoning.Completer
	Model       string
	Temperature float64
	// ManifestDir holds *.yaml HTTP tool manifests. Empty disables them.
	ManifestDir string
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// Builtins returns the builtin capabilities the options can support,
// unfiltered.
func Builtins(opts Options) []capability.Capability {
	client := opts.httpClient()
	tools := []capability.Capability{
		EchoTool{},
		&WikipediaSearchTool{Client: client, Endpoint: opts.WikipediaEndpoint},
		&SearchEngineTool{Client: client, Endpoint: opts.SearchEndpoint},
		&NewsFetchTool{Client: client, Endpoint: opts.NewsFetchEndpoint},
	}
	if opts.NewsAPIKey != "" {
		tools = append(tools, &NewsAPITool{Client: client, Endpoint: opts.NewsAPIEndpoint, APIKey: opts.NewsAPIKey})
	}
	if opts.Extractor != nil {
		tools = append(tools, &PageContentExtractionTool{Extractor: opts.Extractor})
	}
	tools = append(tools, &APICallerTool{Client: client})
	if opts.Completer != nil {
		tools = append(tools, &GeneralistTool{
			Completer:   opts.Completer,
			Model:       opts.Model,
			Temperature: opts.Temperature,
		}, &CriticTool{
			Completer:   opts.Completer,
			Model:       opts.Model,
			Temperature: opts.Temperature,
		})
	}
	return tools
}

// Register adds the builtins and manifest tools allowed by opts.Policy to
// reg and returns the registered ids.
func Register(reg Registrar, opts Options) ([]string, error) {
	if reg == nil {
		return nil, errors.New("registrar is required")
	}
	logger := opts.Logger.With().Str("component", "coretools").Logger()

	tools := Builtins(opts)
	if opts.ManifestDir != "" {
		manifests, err := LoadManifests(opts.ManifestDir, opts.httpClient(), logger)
		if err != nil {
			return nil, err
		}
		tools = append(tools, manifests...)
	}

	var ids []string
	for _, tool := range tools {
		id := tool.Descriptor().ToolID
		if !opts.Policy.Allowed(id) {
			logger.Debug().Str("tool_id", id).Msg("Tool disabled by policy")
			continue
		}
		if err := reg.RegisterCapability(tool); err != nil {
			return ids, fmt.Errorf("failed to register tool %s: %w", id, err)
		}
		ids = append(ids, id)
	}
	logger.Info().Strs("tools", ids).Msg("Tools registered")
	return ids, nil
}

// intInput reads a JSON number field, falling back to def.
func intInput(input map[string]any, key string, def int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func stringInput(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}
