package coretools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/harun/stepwise/pkg/capability"
)

const maxResponseBytes = 1 << 20

var apiMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// APICallerTool performs one HTTP request with an optional JSON body.
type APICallerTool struct {
	Client *http.Client
}

// APICallResult is the tool output. Transport and HTTP failures are reported
// in Error with Success unset rather than failing the step.
type APICallResult struct {
	Success  bool   `json:"success"`
	Status   int    `json:"status,omitempty"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (t *APICallerTool) Descriptor() capability.Descriptor {
	return capability.Descriptor{
		ToolID:      APICallerToolID,
		Name:        "API Caller Tool",
		Description: "Tool for calling an API with a given URL and parameters. Returns the response from the API. Accepts only json data for the body of the request.",
		InputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "url", Type: "string", Description: "API endpoint URL", Required: true},
			capability.Parameter{Name: "params", Type: "object", Description: "Query parameters to be sent in the API request"},
			capability.Parameter{Name: "headers", Type: "object", Description: "Headers to be sent in the API request"},
			capability.Parameter{Name: "method", Type: "string", Description: "HTTP method (GET, POST, PUT, PATCH, DELETE)", Default: http.MethodGet},
			capability.Parameter{Name: "body", Type: "object", Description: "JSON body for POST, PUT and PATCH requests"},
		),
		OutputSchema: capability.ObjectSchema(
			capability.Parameter{Name: "success", Type: "boolean", Required: true},
			capability.Parameter{Name: "status", Type: "integer"},
			capability.Parameter{Name: "response", Type: "string"},
			capability.Parameter{Name: "error", Type: "string"},
		),
		ExampleInputs: capability.Examples(
			map[string]any{
				"url":     "https://jsonplaceholder.typicode.com/posts",
				"params":  map[string]any{"userId": 1},
				"headers": map[string]any{"Content-Type": "application/json"},
				"method":  "GET",
			},
			map[string]any{
				"url":     "https://jsonplaceholder.typicode.com/posts",
				"headers": map[string]any{"Content-Type": "application/json"},
				"method":  "POST",
				"body":    map[string]any{"title": "foo", "body": "bar", "userId": 1},
			},
		),
	}
}

func (t *APICallerTool) Run(ctx context.Context, input map[string]any) (any, error) {
	method := strings.ToUpper(stringInput(input, "method"))
	if method == "" {
		method = http.MethodGet
	}
	if !slices.Contains(apiMethods, method) {
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	target, err := url.Parse(stringInput(input, "url"))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", stringInput(input, "url"))
	}
	if params, ok := input["params"].(map[string]any); ok && len(params) > 0 {
		q := target.Query()
		for k, v := range params {
			q.Set(k, scalarString(v))
		}
		target.RawQuery = q.Encode()
	}

	var body io.Reader
	if raw, ok := input["body"]; ok && raw != nil && method != http.MethodGet {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if headers, ok := input["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, scalarString(v))
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	return doCall(t.Client, req), nil
}

// doCall runs req and folds every failure into the result.
func doCall(client *http.Client, req *http.Request) APICallResult {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return APICallResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return APICallResult{Status: resp.StatusCode, Error: fmt.Sprintf("failed to read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return APICallResult{
			Status:   resp.StatusCode,
			Response: string(data),
			Error:    fmt.Sprintf("HTTP Error %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}
	return APICallResult{Success: true, Status: resp.StatusCode, Response: string(data)}
}

// scalarString renders a JSON value for a header or query string.
func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case float64, bool, json.Number:
		return fmt.Sprint(x)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
