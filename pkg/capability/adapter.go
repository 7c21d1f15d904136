package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/bus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// AdapterConfig carries the ambient dependencies shared by every adapter.
type AdapterConfig struct {
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Audit   *observability.AuditLogger
}

// Adapter exposes one registered tool as a bus handler.
type Adapter struct {
	toolID  string
	entry   *entry
	logger  zerolog.Logger
	metrics *observability.Metrics
	audit   *observability.AuditLogger
}

// NewAdapter builds the adapter for toolID.
func NewAdapter(reg *Registry, toolID string, cfg AdapterConfig) (*Adapter, error) {
	e, err := reg.lookup(toolID)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		toolID:  toolID,
		entry:   e,
		logger:  cfg.Logger.With().Str("component", "capability").Str("tool_id", toolID).Logger(),
		metrics: cfg.Metrics,
		audit:   cfg.Audit,
	}, nil
}

// Handle implements bus.Handler. The topic is the session id.
func (a *Adapter) Handle(ctx context.Context, env bus.Envelope) (any, error) {
	if tracing.SessionID(ctx) == "" {
		ctx = tracing.WithSessionID(ctx, env.Topic)
	}
	return a.Invoke(ctx, env.Payload)
}

// Invoke coerces payload to an object, applies schema defaults, validates
// it, runs the executor and validates the result.
func (a *Adapter) Invoke(ctx context.Context, payload any) (output any, err error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerCapability, "capability.invoke",
		attribute.String("tool_id", a.toolID),
	)
	started := time.Now()
	defer func() {
		a.metrics.RecordToolExecution(a.toolID, time.Since(started), err)
		a.audit.RecordTool(ctx, a.toolID, tracing.SessionID(ctx), err, map[string]any{
			"duration_ms": time.Since(started).Milliseconds(),
		})
		tracing.EndSpan(span, err)
	}()

	logger := tracing.LoggerFromContext(ctx, a.logger)

	input, err := coerceObject(payload)
	if err != nil {
		return nil, &SchemaValidationError{ToolID: a.toolID, Direction: DirectionInput, Problems: []string{err.Error()}}
	}
	a.entry.input.applyDefaults(input)

	problems, err := a.entry.input.validate(input)
	if err != nil {
		return nil, fmt.Errorf("failed to validate %s input: %w", a.toolID, err)
	}
	if len(problems) > 0 {
		logger.Debug().Strs("problems", problems).Msg("Input rejected")
		return nil, &SchemaValidationError{ToolID: a.toolID, Direction: DirectionInput, Problems: problems}
	}

	logger.Debug().Msg("Executing tool")
	output, err = a.run(ctx, input)
	if err != nil {
		logger.Warn().Err(err).Dur("duration", time.Since(started)).Msg("Tool execution failed")
		return nil, &ToolExecutionError{ToolID: a.toolID, Cause: err}
	}

	problems, err = a.entry.output.validate(output)
	if err != nil {
		return nil, fmt.Errorf("failed to validate %s output: %w", a.toolID, err)
	}
	if len(problems) > 0 {
		logger.Warn().Strs("problems", problems).Msg("Output rejected")
		return nil, &SchemaValidationError{ToolID: a.toolID, Direction: DirectionOutput, Problems: problems}
	}

	logger.Debug().Dur("duration", time.Since(started)).Msg("Tool execution completed")
	return output, nil
}

func (a *Adapter) run(ctx context.Context, input map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return a.entry.exec.Run(ctx, input)
}

// Mount registers one direct-only agent type per tool on b, named by tool id,
// subscribed to every topic so each session gets its own adapter instance at
// Bootstrap.
func Mount(b *bus.Bus, reg *Registry, cfg AdapterConfig) error {
	for _, id := range reg.IDs() {
		toolID := id
		_, err := b.Register(bus.AgentType(toolID), func(bus.AgentID) (bus.Handler, error) {
			return NewAdapter(reg, toolID, cfg)
		}, bus.Options{AcceptsBroadcast: false})
		if err != nil {
			return fmt.Errorf("failed to mount tool %s: %w", toolID, err)
		}
		if err := b.Subscribe(bus.AgentType(toolID), bus.Wildcard); err != nil {
			return fmt.Errorf("failed to subscribe tool %s: %w", toolID, err)
		}
	}
	return nil
}
