package coretools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harun/stepwise/pkg/agent"
	"github.com/harun/stepwise/pkg/browser"
	"github.com/harun/stepwise/pkg/capability"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct {
	url      string
	maxChars int
	err      error
}

func (s *stubExtractor) Extract(_ context.Context, rawURL string, maxChars int) (*browser.Page, error) {
	s.url, s.maxChars = rawURL, maxChars
	if s.err != nil {
		return nil, s.err
	}
	return &browser.Page{URL: rawURL, Title: "Title", Text: "body text"}, nil
}

type stubCompleter struct{}

func (stubCompleter) Complete(context.Context, agent.LLMRequest) (*agent.LLMResponse, error) {
	return &agent.LLMResponse{Content: "answer"}, nil
}

func invoke(t *testing.T, reg *capability.Registry, toolID string, input any) (any, error) {
	t.Helper()
	a, err := capability.NewAdapter(reg, toolID, capability.AdapterConfig{Logger: zerolog.Nop()})
	require.NoError(t, err)
	return a.Invoke(context.Background(), input)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := capability.NewRegistry()
	ids, err := Register(reg, Options{
		Logger:     zerolog.Nop(),
		Extractor:  &stubExtractor{},
		Completer:  &stubCompleter{},
		NewsAPIKey: "token",
	})
	require.NoError(t, err)
	assert.Equal(t, BuiltinIDs(), ids)
	assert.Equal(t, BuiltinIDs(), reg.IDs())
}

func TestRegisterSkipsUnbackedTools(t *testing.T) {
	reg := capability.NewRegistry()
	ids, err := Register(reg, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, []string{EchoToolID, WikipediaToolID, SearchEngineToolID, NewsFetchToolID, APICallerToolID}, ids)
}

func TestRegisterAppliesPolicy(t *testing.T) {
	reg := capability.NewRegistry()
	ids, err := Register(reg, Options{
		Logger: zerolog.Nop(),
		Policy: capability.Policy{Allow: []string{"*"}, Deny: []string{APICallerToolID}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{EchoToolID, WikipediaToolID, SearchEngineToolID, NewsFetchToolID}, ids)

	reg = capability.NewRegistry()
	ids, err = Register(reg, Options{
		Logger: zerolog.Nop(),
		Policy: capability.Policy{Allow: []string{EchoToolID}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{EchoToolID}, ids)
}

func TestRegisterDuplicate(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.RegisterCapability(EchoTool{}))

	_, err := Register(reg, Options{Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, capability.ErrDuplicateCapability)

	_, err = Register(nil, Options{})
	assert.Error(t, err)
}

func TestEchoTool(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.RegisterCapability(EchoTool{}))

	out, err := invoke(t, reg, EchoToolID, `{"text":"hi"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hi"}, out)

	_, err = invoke(t, reg, EchoToolID, `{}`)
	var schemaErr *capability.SchemaValidationError
	assert.ErrorAs(t, err, &schemaErr)
}

func wikipediaServer(t *testing.T, extract string, hits bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "json", q.Get("format"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case q.Get("list") == "search":
			assert.Equal(t, "Go language", q.Get("srsearch"))
			if !hits {
				_, _ = io.WriteString(w, `{"query":{"search":[]}}`)
				return
			}
			_, _ = io.WriteString(w, `{"query":{"search":[{"title":"Go (programming language)"},{"title":"Go (game)"}]}}`)
		case q.Get("prop") == "extracts":
			assert.Equal(t, "Go (programming language)", q.Get("titles"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"query": map[string]any{
					"pages": []map[string]any{{"title": "Go (programming language)", "extract": extract}},
				},
			})
		default:
			http.Error(w, "unexpected", http.StatusBadRequest)
		}
	}))
}

func TestWikipediaSearchTool(t *testing.T) {
	long := strings.Repeat("a", 3000)
	srv := wikipediaServer(t, long, true)
	defer srv.Close()

	reg := capability.NewRegistry()
	require.NoError(t, reg.RegisterCapability(&WikipediaSearchTool{Client: srv.Client(), Endpoint: srv.URL}))

	t.Run("default length", func(t *testing.T) {
		out, err := invoke(t, reg, WikipediaToolID, map[string]any{"query": "Go language"})
		require.NoError(t, err)
		res := out.(WikipediaResult)
		assert.True(t, res.Success)
		assert.Equal(t, "Go (programming language)", res.Title)
		assert.Len(t, res.SearchResults, defaultMaxRespLength)
	})

	t.Run("explicit length", func(t *testing.T) {
		out, err := invoke(t, reg, WikipediaToolID, map[string]any{"query": "Go language", "max_length_of_response": 10})
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("a", 10), out.(WikipediaResult).SearchResults)
	})
}

func TestWikipediaNoResults(t *testing.T) {
	srv := wikipediaServer(t, "", false)
	defer srv.Close()

	tool := &WikipediaSearchTool{Client: srv.Client(), Endpoint: srv.URL}
	out, err := tool.Run(context.Background(), map[string]any{"query": "Go language"})
	require.NoError(t, err)
	assert.False(t, out.(WikipediaResult).Success)
}

func TestWikipediaServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := capability.NewRegistry()
	require.NoError(t, reg.RegisterCapability(&WikipediaSearchTool{Client: srv.Client(), Endpoint: srv.URL}))
	_, err := invoke(t, reg, WikipediaToolID, map[string]any{"query": "x"})
	var execErr *capability.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, err.Error(), "503")
}

func TestPageContentExtractionTool(t *testing.T) {
	ext := &stubExtractor{}
	reg := capability.NewRegistry()
	require.NoError(t, reg.RegisterCapability(&PageContentExtractionTool{Extractor: ext}))

	out, err := invoke(t, reg, PageContentToolID, `{"link":"https://example.com"}`)
	require.NoError(t, err)
	page := out.(*browser.Page)
	assert.Equal(t, "body text", page.Text)
	assert.Equal(t, "https://example.com", ext.url)
	assert.Equal(t, 8000, ext.maxChars)

	ext.err = &browser.Error{Code: browser.ErrCodeSecurity, Message: "blocked"}
	_, err = invoke(t, reg, PageContentToolID, `{"link":"http://localhost"}`)
	var berr *browser.Error
	assert.ErrorAs(t, err, &berr)
}

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*agent.LLMResponse)
	return resp, args.Error(1)
}

func generalistRequest(persona, prompt string) any {
	return mock.MatchedBy(func(req agent.LLMRequest) bool {
		return req.Model == "m" &&
			req.SystemPrompt == "Act as a "+persona+"." &&
			len(req.Messages) == 1 && req.Messages[0].Content == prompt
	})
}

func TestGeneralistTool(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, generalistRequest("Financial Expert", "Summarize")).
		Return(&agent.LLMResponse{Content: "answer"}, nil).Once()
	c.On("Complete", mock.Anything, generalistRequest("Generalist", "Hi")).
		Return(&agent.LLMResponse{Content: "hello"}, nil).Once()
	c.On("Complete", mock.Anything, generalistRequest("Generalist", "Hi")).
		Return(nil, errors.New("rate limit")).Once()

	reg := capability.NewRegistry()
	require.NoError(t, reg.RegisterCapability(&GeneralistTool{Completer: c, Model: "m"}))

	out, err := invoke(t, reg, GeneralistToolID, map[string]any{"prompt": "Summarize", "persona_type": "Financial Expert"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"response": "answer"}, out)

	out, err = invoke(t, reg, GeneralistToolID, map[string]any{"prompt": "Hi"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"response": "hello"}, out)

	_, err = invoke(t, reg, GeneralistToolID, map[string]any{"prompt": "Hi"})
	assert.ErrorContains(t, err, "rate limit")

	c.AssertExpectations(t)
}
