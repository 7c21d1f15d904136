package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/bus"
	"github.com/harun/stepwise/pkg/capability"
	"github.com/harun/stepwise/pkg/orchestrator"
	"github.com/harun/stepwise/pkg/reasoning"
	"github.com/harun/stepwise/pkg/session"
	"github.com/rs/zerolog"
)

// Request is an inbound user request.
type Request = orchestrator.Request

var (
	// ErrEmptyMessage is returned by Submit for blank requests.
	ErrEmptyMessage = errors.New("request message is empty")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("engine already started")
)

// Config configures an Engine.
type Config struct {
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Audit   *observability.AuditLogger
	// Reasoning serves the five reasoning agent types. Required by Start.
	Reasoning reasoning.Agents
	// Tools is the capability registry. A fresh one is created when nil.
	Tools           *capability.Registry
	DefaultMaxSteps int
	CallTimeout     time.Duration
	QueueWarnAfter  time.Duration
	TranscriptDir   string
}

// Engine runs sessions end to end.
type Engine struct {
	logger    zerolog.Logger
	cfg       Config
	bus       *bus.Bus
	tools     *capability.Registry
	sessions  *session.Registry
	reasoning reasoning.Agents

	mu      sync.Mutex
	started bool
}

// New creates a stopped engine.
func New(cfg Config) *Engine {
	tools := cfg.Tools
	if tools == nil {
		tools = capability.NewRegistry()
	}
	b := bus.New(bus.Config{
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
		QueueWarnAfter: cfg.QueueWarnAfter,
	})
	return &Engine{
		logger: cfg.Logger.With().Str("component", "engine").Logger(),
		cfg:    cfg,
		bus:    b,
		tools:  tools,
		sessions: session.NewRegistry(session.Config{
			Logger:        cfg.Logger,
			Metrics:       cfg.Metrics,
			Audit:         cfg.Audit,
			Bus:           b,
			TranscriptDir: cfg.TranscriptDir,
		}),
		reasoning: cfg.Reasoning,
	}
}

// RegisterTool adds a capability. Tools must be registered before Start.
func (e *Engine) RegisterTool(desc capability.Descriptor, exec capability.Executor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("register %s: %w", desc.ToolID, ErrAlreadyStarted)
	}
	return e.tools.Register(desc, exec)
}

// RegisterCapability adds a self-describing capability.
func (e *Engine) RegisterCapability(c capability.Capability) error {
	return e.RegisterTool(c.Descriptor(), c)
}

// Tools returns the descriptors of every registered capability.
func (e *Engine) Tools() []capability.Descriptor {
	return e.tools.DescribeAll()
}

// Start mounts every agent type and starts the bus. A name collision between
// tools and built-in agents surfaces as bus.ErrDuplicateRegistration.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	if e.reasoning == nil {
		return fmt.Errorf("engine: reasoning agents are required")
	}

	if err := orchestrator.Mount(e.bus, orchestrator.Config{
		Logger:          e.cfg.Logger,
		Metrics:         e.cfg.Metrics,
		Bus:             e.bus,
		Sessions:        e.sessions,
		Catalog:         e.tools,
		CallTimeout:     e.cfg.CallTimeout,
		DefaultMaxSteps: e.cfg.DefaultMaxSteps,
	}); err != nil {
		return err
	}
	if err := reasoning.Mount(e.bus, e.reasoning); err != nil {
		return err
	}
	if err := capability.Mount(e.bus, e.tools, capability.AdapterConfig{
		Logger:  e.cfg.Logger,
		Metrics: e.cfg.Metrics,
		Audit:   e.cfg.Audit,
	}); err != nil {
		return err
	}
	if err := e.bus.Start(); err != nil {
		return err
	}

	e.started = true
	e.logger.Info().
		Int("tools", e.tools.Len()).
		Int("agent_types", len(e.bus.AgentTypes())).
		Msg("Engine started")
	return nil
}

// Submit opens a session, or reuses sessionID when it is already known, and
// queues req on its orchestrator. It returns the session id.
func (e *Engine) Submit(ctx context.Context, req Request, sessionID string) (string, error) {
	if strings.TrimSpace(req.Message) == "" {
		return "", ErrEmptyMessage
	}

	id := session.NormalizeID(sessionID)
	if _, err := e.sessions.Get(id); err != nil {
		opened, err := e.sessions.Open(ctx, sessionID)
		switch {
		case errors.Is(err, session.ErrSessionAlreadyExists):
			// opened concurrently by another submit
		case err != nil:
			return "", err
		default:
			id = opened
		}
	}

	ctx = tracing.WithSessionID(ctx, id)
	if err := e.bus.Post(ctx, req, orchestrator.AgentType, id); err != nil {
		return "", fmt.Errorf("failed to submit to session %s: %w", id, err)
	}
	logger := tracing.LoggerFromContext(ctx, e.logger)
	logger.Debug().
		Int("max_steps", req.MaxSteps).
		Int("files", len(req.Files)).
		Msg("Request submitted")
	return id, nil
}

// Stream attaches the event stream of a session.
func (e *Engine) Stream(id string) (*session.EventStream, error) {
	return e.sessions.Stream(id)
}

// Session returns a session by id.
func (e *Engine) Session(id string) (*session.Session, error) {
	return e.sessions.Get(id)
}

// Sessions lists session ids in creation order.
func (e *Engine) Sessions() []string {
	return e.sessions.List()
}

// Stop halts the bus, draining queued work when drain is set, then closes
// every session so that blocked streams return.
func (e *Engine) Stop(ctx context.Context, drain bool) error {
	err := e.bus.Stop(ctx, drain)
	e.sessions.Close()
	if err != nil {
		e.logger.Warn().Err(err).Bool("drain", drain).Msg("Engine stopped with error")
		return err
	}
	e.logger.Info().Bool("drain", drain).Msg("Engine stopped")
	return nil
}
