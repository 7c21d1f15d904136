package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	runIDKey     contextKey = "run_id"
	sessionIDKey contextKey = "session_id"
	agentKey     contextKey = "agent"
)

// Fields is the correlation data carried through a request.
type Fields struct {
	TraceID   string
	RunID     string
	SessionID string
	Agent     string
}

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, agentKey, agent)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func TraceID(ctx context.Context) string   { return stringValue(ctx, traceIDKey) }
func RunID(ctx context.Context) string     { return stringValue(ctx, runIDKey) }
func SessionID(ctx context.Context) string { return stringValue(ctx, sessionIDKey) }
func Agent(ctx context.Context) string     { return stringValue(ctx, agentKey) }

// FromContext collects every correlation field present on ctx.
func FromContext(ctx context.Context) Fields {
	return Fields{
		TraceID:   TraceID(ctx),
		RunID:     RunID(ctx),
		SessionID: SessionID(ctx),
		Agent:     Agent(ctx),
	}
}

// NewRunContext starts a request run for a session: it keeps an inbound trace
// id when present and always mints a new run id.
func NewRunContext(ctx context.Context, sessionID string) context.Context {
	if TraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewID())
	}
	ctx = WithRunID(ctx, NewID())
	return WithSessionID(ctx, sessionID)
}

// Detach copies the correlation fields onto a fresh background context so
// that work outliving the caller keeps its ids but not its cancellation.
func Detach(ctx context.Context) context.Context {
	f := FromContext(ctx)
	out := context.Background()
	if f.TraceID != "" {
		out = WithTraceID(out, f.TraceID)
	}
	if f.RunID != "" {
		out = WithRunID(out, f.RunID)
	}
	if f.SessionID != "" {
		out = WithSessionID(out, f.SessionID)
	}
	if f.Agent != "" {
		out = WithAgent(out, f.Agent)
	}
	return out
}

// LoggerFromContext returns base enriched with the correlation fields on ctx.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	f := FromContext(ctx)
	lc := base.With()
	if f.TraceID != "" {
		lc = lc.Str("trace_id", f.TraceID)
	}
	if f.RunID != "" {
		lc = lc.Str("run_id", f.RunID)
	}
	if f.SessionID != "" {
		lc = lc.Str("session_id", f.SessionID)
	}
	if f.Agent != "" {
		lc = lc.Str("agent", f.Agent)
	}
	return lc.Logger()
}
