package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/pkg/bus"
	"github.com/harun/stepwise/pkg/capability"
	"github.com/harun/stepwise/pkg/reasoning"
	"github.com/harun/stepwise/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// stubBrain stands in for the reasoning service. Nil hooks fall back to a
// plan that echoes the query once and never stops.
type stubBrain struct {
	mu       sync.Mutex
	calls    map[bus.AgentType]int
	predicts []reasoning.PredictRequest

	analyze  func(reasoning.AnalyzeRequest) (reasoning.QueryAnalysis, error)
	predict  func(reasoning.PredictRequest) (reasoning.ActionPlan, error)
	command  func(reasoning.CommandRequest) (reasoning.ToolCommand, error)
	verify   func(reasoning.VerifyRequest, int) (reasoning.Verdict, error)
	finalize func(reasoning.FinalizeRequest) (string, error)
}

func newStubBrain() *stubBrain {
	return &stubBrain{calls: make(map[bus.AgentType]int)}
}

func (s *stubBrain) count(t bus.AgentType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[t]
}

func (s *stubBrain) handle(agentType bus.AgentType, payload any) (any, error) {
	s.mu.Lock()
	s.calls[agentType]++
	n := s.calls[agentType]
	if req, ok := payload.(reasoning.PredictRequest); ok {
		s.predicts = append(s.predicts, req)
	}
	s.mu.Unlock()

	switch req := payload.(type) {
	case reasoning.AnalyzeRequest:
		if s.analyze != nil {
			return s.analyze(req)
		}
		return reasoning.QueryAnalysis{Summary: req.Query}, nil
	case reasoning.PredictRequest:
		if s.predict != nil {
			return s.predict(req)
		}
		return reasoning.ActionPlan{SubGoal: "echo " + req.Query, ToolName: "EchoTool"}, nil
	case reasoning.CommandRequest:
		if s.command != nil {
			return s.command(req)
		}
		return reasoning.ToolCommand{Argument: `{"text": "` + req.Query + `"}`}, nil
	case reasoning.VerifyRequest:
		if s.verify != nil {
			return s.verify(req, n)
		}
		return reasoning.Verdict{StopSignal: false}, nil
	case reasoning.FinalizeRequest:
		if s.finalize != nil {
			return s.finalize(req)
		}
		return "answer: " + req.Query, nil
	}
	return nil, errors.New("stub: unexpected payload")
}

func (s *stubBrain) Handler(agentType bus.AgentType) bus.Handler {
	return bus.HandlerFunc(func(ctx context.Context, env bus.Envelope) (any, error) {
		return s.handle(agentType, env.Payload)
	})
}

type harness struct {
	bus      *bus.Bus
	sessions *session.Registry
	tools    *capability.Registry
	metrics  *observability.Metrics
	brain    *stubBrain

	echoCalls atomic.Int32
	failCalls atomic.Int32
	release   chan struct{}
	blocked   chan struct{}
}

func newHarness(t *testing.T, brain *stubBrain, tune func(*Config)) *harness {
	t.Helper()
	h := &harness{
		bus:     bus.New(bus.Config{Logger: zerolog.Nop()}),
		tools:   capability.NewRegistry(),
		metrics: observability.NewMetrics(),
		brain:   brain,
		release: make(chan struct{}),
		blocked: make(chan struct{}, 8),
	}

	textSchema := capability.ObjectSchema(capability.Parameter{Name: "text", Type: "string", Required: true})
	require.NoError(t, h.tools.Register(capability.Descriptor{
		ToolID: "EchoTool", Name: "Echo", Description: "Echoes text", InputSchema: textSchema,
	}, capability.ExecutorFunc(func(ctx context.Context, in map[string]any) (any, error) {
		h.echoCalls.Add(1)
		return in["text"], nil
	})))
	require.NoError(t, h.tools.Register(capability.Descriptor{
		ToolID: "FailTool", Name: "Fail", Description: "Always fails", InputSchema: textSchema,
	}, capability.ExecutorFunc(func(ctx context.Context, in map[string]any) (any, error) {
		h.failCalls.Add(1)
		return nil, errors.New("tool exploded")
	})))
	require.NoError(t, h.tools.Register(capability.Descriptor{
		ToolID: "BlockTool", Name: "Block", Description: "Blocks until released", InputSchema: textSchema,
	}, capability.ExecutorFunc(func(ctx context.Context, in map[string]any) (any, error) {
		h.blocked <- struct{}{}
		select {
		case <-h.release:
			return "released", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})))
	require.NoError(t, capability.Mount(h.bus, h.tools, capability.AdapterConfig{Logger: zerolog.Nop()}))

	require.NoError(t, reasoning.Mount(h.bus, brain))
	h.sessions = session.NewRegistry(session.Config{Logger: zerolog.Nop(), Bus: h.bus})

	cfg := Config{
		Logger:   zerolog.Nop(),
		Metrics:  h.metrics,
		Bus:      h.bus,
		Sessions: h.sessions,
		Catalog:  h.tools,
	}
	if tune != nil {
		tune(&cfg)
	}
	require.NoError(t, Mount(h.bus, cfg))
	require.NoError(t, h.bus.Start())

	t.Cleanup(func() {
		h.sessions.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.bus.Stop(ctx, false)
	})
	return h
}

func (h *harness) open(t *testing.T) string {
	t.Helper()
	id, err := h.sessions.Open(context.Background(), "")
	require.NoError(t, err)
	return id
}

func (h *harness) post(t *testing.T, id string, req Request) {
	t.Helper()
	require.NoError(t, h.bus.Post(context.Background(), req, AgentType, id))
}

func (h *harness) submit(t *testing.T, req Request) string {
	t.Helper()
	id := h.open(t)
	h.post(t, id, req)
	return id
}

// collect reads one run's events, up to and including the final one.
func (h *harness) collect(t *testing.T, id string) []session.Event {
	t.Helper()
	st, err := h.sessions.Stream(id)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []session.Event
	for ev, err := range st.All(ctx) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.True(t, st.Finished(), "stream ended before the final event")
	return events
}

func types(events []session.Event) []session.EventType {
	out := make([]session.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func repeat(pattern []session.EventType, n int, tail ...session.EventType) []session.EventType {
	var out []session.EventType
	for i := 0; i < n; i++ {
		out = append(out, pattern...)
	}
	return append(out, tail...)
}
