package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/bus"
	"github.com/harun/stepwise/pkg/capability"
	"github.com/harun/stepwise/pkg/reasoning"
	"github.com/harun/stepwise/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Step outcomes reported to metrics.
const (
	outcomeSuccess        = "success"
	outcomeToolError      = "tool_error"
	outcomeInvalidTool    = "invalid_tool"
	outcomeMalformedArg   = "malformed_argument"
	outcomeReasoningError = "reasoning_error"
)

// Caller is the request-reply half of the bus.
type Caller interface {
	Send(ctx context.Context, payload any, agentType bus.AgentType, topic string) (any, error)
}

// Sessions resolves session ids.
type Sessions interface {
	Get(id string) (*session.Session, error)
}

// Catalog lists registered capabilities.
type Catalog interface {
	DescribeAll() []capability.Descriptor
}

// Config configures every Orchestrator instance.
type Config struct {
	Logger   zerolog.Logger
	Metrics  *observability.Metrics
	Bus      Caller
	Sessions Sessions
	Catalog  Catalog
	// CallTimeout bounds each reasoning or tool round-trip. Zero disables
	// it, so a stuck call blocks only its own session.
	CallTimeout time.Duration
	// DefaultMaxSteps applies to requests with MaxSteps <= 0.
	DefaultMaxSteps int
}

// Orchestrator drives the loop for the session named by its topic.
type Orchestrator struct {
	id     bus.AgentID
	cfg    Config
	logger zerolog.Logger
}

// New creates the instance bound to id.
func New(id bus.AgentID, cfg Config) (*Orchestrator, error) {
	if cfg.Bus == nil || cfg.Sessions == nil || cfg.Catalog == nil {
		return nil, fmt.Errorf("orchestrator %s: bus, sessions and catalog are required", id)
	}
	if cfg.DefaultMaxSteps <= 0 {
		cfg.DefaultMaxSteps = DefaultMaxSteps
	}
	return &Orchestrator{
		id:     id,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "orchestrator").Str("instance", id.String()).Logger(),
	}, nil
}

// Mount registers the orchestrator type on b and subscribes it to every
// topic so that the session Bootstrap broadcast materializes its instance.
func Mount(b *bus.Bus, cfg Config) error {
	if _, err := b.Register(AgentType, func(id bus.AgentID) (bus.Handler, error) {
		return New(id, cfg)
	}, bus.Options{AcceptsBroadcast: true}); err != nil {
		return err
	}
	return b.Subscribe(AgentType, bus.Wildcard)
}

// Handle implements bus.Handler.
func (o *Orchestrator) Handle(ctx context.Context, env bus.Envelope) (any, error) {
	switch req := env.Payload.(type) {
	case session.Bootstrap:
		o.logger.Debug().Msg("Session bootstrapped")
		return nil, nil
	case Request:
		return nil, o.Run(ctx, env.Topic, req)
	case *Request:
		return nil, o.Run(ctx, env.Topic, *req)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedPayload, env.Payload)
	}
}

// run holds the state of one request.
type run struct {
	sess        *session.Session
	req         Request
	maxSteps    int
	attachments []reasoning.Attachment
	catalog     []capability.Descriptor
	analysis    reasoning.QueryAnalysis
	history     History
	step        int
	conclusion  bool
	phase       Phase
}

// Run executes one request against sessionID and emits its events. The
// returned error is non-nil only when no event could be produced at all.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, req Request) (err error) {
	sess, err := o.cfg.Sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if !sess.TryBeginProcessing() {
		return fmt.Errorf("session %s is already processing", sessionID)
	}
	defer sess.EndProcessing()

	ctx = tracing.NewRunContext(ctx, sessionID)
	ctx = tracing.WithAgent(ctx, string(AgentType))
	ctx, span := tracing.StartSpan(ctx, tracing.TracerOrchestrator, "orchestrator.run",
		attribute.String("session_id", sessionID),
	)
	defer func() { tracing.EndSpan(span, err) }()

	r := &run{
		sess:        sess,
		req:         req,
		maxSteps:    req.MaxSteps,
		attachments: reasoning.Inspect(req.Files),
		catalog:     o.cfg.Catalog.DescribeAll(),
	}
	if r.maxSteps <= 0 {
		r.maxSteps = o.cfg.DefaultMaxSteps
	}

	logger := tracing.LoggerFromContext(ctx, o.logger)
	logger.Info().Int("max_steps", r.maxSteps).Int("tools", len(r.catalog)).Msg("Run started")
	started := time.Now()

	o.analyze(ctx, r)
	for o.nextStep(ctx, r) {
		o.execute(ctx, r)
		o.verify(ctx, r)
	}
	err = o.finalize(ctx, r)

	o.cfg.Metrics.RecordRun(r.conclusion)
	logger.Info().
		Int("steps", r.step).
		Bool("conclusion", r.conclusion).
		Dur("duration", time.Since(started)).
		Msg("Run finished")
	return err
}

func (o *Orchestrator) enter(ctx context.Context, r *run, phase Phase) {
	r.phase = phase
	logger := tracing.LoggerFromContext(ctx, o.logger)
	logger.Debug().
		Str("phase", phase.String()).
		Int("step", r.step).
		Msg("Phase")
}

func (o *Orchestrator) analyze(ctx context.Context, r *run) {
	o.enter(ctx, r, PhaseAnalyzing)
	reply, err := o.call(ctx, r, reasoning.QueryAnalyzer, reasoning.AnalyzeRequest{
		Query:       r.req.Message,
		Attachments: r.attachments,
		Catalog:     r.catalog,
	})
	if err == nil {
		r.analysis, err = expect[reasoning.QueryAnalysis](reasoning.QueryAnalyzer, reply)
	}
	if err != nil {
		o.emitError(ctx, r, nil, nil, fmt.Sprintf("Query analysis failed: %v", err))
	}
}

// nextStep enters PREDICTING and reports whether the budget allows another
// step. Once it is spent the step number stays at MaxSteps.
func (o *Orchestrator) nextStep(ctx context.Context, r *run) bool {
	if r.conclusion || ctx.Err() != nil {
		return false
	}
	if r.step >= r.maxSteps {
		return false
	}
	r.step++
	o.enter(ctx, r, PhasePredicting)
	return true
}

func (o *Orchestrator) execute(ctx context.Context, r *run) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerOrchestrator, "orchestrator.step",
		attribute.Int("step", r.step),
	)
	var stepErr error
	defer func() { tracing.EndSpan(span, stepErr) }()

	rec := StepRecord{StepNo: r.step}
	fail := func(outcome string, toolUsed, command *string, err error) {
		stepErr = err
		rec.Error = err.Error()
		r.history.Append(rec)
		o.cfg.Metrics.RecordStep(outcome)
		o.emitError(ctx, r, toolUsed, command, "Error executing tool: "+err.Error())
	}

	reply, err := o.call(ctx, r, reasoning.ActionPredictor, reasoning.PredictRequest{
		Query:       r.req.Message,
		Attachments: r.attachments,
		Analysis:    r.analysis,
		Step:        r.step,
		MaxSteps:    r.maxSteps,
		Catalog:     r.catalog,
		History:     r.history.String(),
	})
	var plan reasoning.ActionPlan
	if err == nil {
		plan, err = expect[reasoning.ActionPlan](reasoning.ActionPredictor, reply)
	}
	if err != nil {
		fail(outcomeReasoningError, nil, nil, err)
		return
	}
	rec.ToolID = plan.ToolName
	rec.SubGoal = plan.SubGoal
	toolID := plan.ToolName

	desc, ok := findTool(r.catalog, plan.ToolName)
	if !ok {
		fail(outcomeInvalidTool, &toolID, nil, fmt.Errorf("%w: %q is not a registered tool", ErrInvalidToolSelection, plan.ToolName))
		return
	}

	o.enter(ctx, r, PhaseExecuting)
	reply, err = o.call(ctx, r, reasoning.CommandGenerator, reasoning.CommandRequest{
		Query:       r.req.Message,
		Attachments: r.attachments,
		Analysis:    r.analysis,
		Plan:        plan,
		Tool:        desc,
	})
	var cmd reasoning.ToolCommand
	if err == nil {
		cmd, err = expect[reasoning.ToolCommand](reasoning.CommandGenerator, reply)
	}
	if err != nil {
		fail(outcomeReasoningError, &toolID, nil, err)
		return
	}
	rec.Argument = cmd.Argument

	arg, canonical, err := ParseArgument(cmd.Argument)
	if err != nil {
		raw := cmd.Argument
		fail(outcomeMalformedArg, &toolID, &raw, err)
		return
	}
	rec.Argument = canonical

	o.emit(ctx, r, session.Event{
		Type:     session.EventToolRequest,
		Message:  plan.SubGoal,
		ToolUsed: &toolID,
		Command:  &canonical,
		StepNo:   r.step,
	})

	result, err := o.call(ctx, r, bus.AgentType(desc.ToolID), arg)
	if err != nil {
		fail(outcomeToolError, &toolID, &canonical, err)
		return
	}

	rec.Result = result
	r.history.Append(rec)
	o.cfg.Metrics.RecordStep(outcomeSuccess)
	o.emit(ctx, r, session.Event{
		Type:     session.EventToolResponse,
		Message:  renderValue(result),
		ToolUsed: &toolID,
		Command:  &canonical,
		StepNo:   r.step,
	})
}

func (o *Orchestrator) verify(ctx context.Context, r *run) {
	o.enter(ctx, r, PhaseVerifying)
	reply, err := o.call(ctx, r, reasoning.ContextVerifier, reasoning.VerifyRequest{
		Query:       r.req.Message,
		Attachments: r.attachments,
		Catalog:     r.catalog,
		Analysis:    r.analysis,
		History:     r.history.String(),
	})
	var verdict reasoning.Verdict
	if err == nil {
		verdict, err = expect[reasoning.Verdict](reasoning.ContextVerifier, reply)
	}
	if err != nil {
		// an unusable verdict counts as "keep going"
		o.emitError(ctx, r, nil, nil, fmt.Sprintf("Context verification failed: %v", err))
		return
	}
	if verdict.StopSignal {
		r.conclusion = true
	}
}

func (o *Orchestrator) finalize(ctx context.Context, r *run) error {
	o.enter(ctx, r, PhaseFinalizing)

	message := ""
	reply, err := o.call(ctx, r, reasoning.FinalOutputAgent, reasoning.FinalizeRequest{
		Query:       r.req.Message,
		Attachments: r.attachments,
		Analysis:    r.analysis,
		History:     r.history.String(),
	})
	if err == nil {
		message, err = expect[string](reasoning.FinalOutputAgent, reply)
	}
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, o.logger)
		logger.Warn().Err(err).Msg("Final output unavailable")
		message = fmt.Sprintf("Final output unavailable: %v", err)
	}

	_, emitErr := r.sess.Emit(session.Event{
		Type:       session.EventFinalOutput,
		Message:    message,
		Final:      true,
		Conclusion: r.conclusion,
		StepNo:     r.step,
	})
	o.enter(ctx, r, PhaseDone)
	return emitErr
}

// call sends payload to agentType on the run's session topic, bounded by
// CallTimeout when set.
func (o *Orchestrator) call(ctx context.Context, r *run, agentType bus.AgentType, payload any) (any, error) {
	if o.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
	}
	return o.cfg.Bus.Send(ctx, payload, agentType, r.sess.ID())
}

func (o *Orchestrator) emit(ctx context.Context, r *run, ev session.Event) {
	if _, err := r.sess.Emit(ev); err != nil {
		logger := tracing.LoggerFromContext(ctx, o.logger)
		logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to emit event")
	}
}

func (o *Orchestrator) emitError(ctx context.Context, r *run, toolUsed, command *string, message string) {
	logger := tracing.LoggerFromContext(ctx, o.logger)
	logger.Warn().Int("step", r.step).Msg(message)
	o.emit(ctx, r, session.Event{
		Type:     session.EventError,
		Message:  message,
		ToolUsed: toolUsed,
		Command:  command,
		StepNo:   r.step,
	})
}

func findTool(catalog []capability.Descriptor, toolID string) (capability.Descriptor, bool) {
	for _, d := range catalog {
		if d.ToolID == toolID {
			return d, true
		}
	}
	return capability.Descriptor{}, false
}

// errUnexpectedReply reports a reply of the wrong type.
var errUnexpectedReply = errors.New("unexpected reply type")

func expect[T any](agentType bus.AgentType, reply any) (T, error) {
	if v, ok := reply.(T); ok {
		return v, nil
	}
	if p, ok := reply.(*T); ok && p != nil {
		return *p, nil
	}
	var zero T
	return zero, fmt.Errorf("%s: %w %T", agentType, errUnexpectedReply, reply)
}
