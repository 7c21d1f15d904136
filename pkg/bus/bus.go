package bus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/commandqueue"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

type state int

const (
	stateCreated state = iota
	stateRunning
	stateDraining
	stateStopped
)

// Config configures a Bus.
type Config struct {
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	// QueueWarnAfter logs deliveries that wait longer than this behind a busy
	// instance. Zero disables the warning.
	QueueWarnAfter time.Duration
}

type registration struct {
	factory  Factory
	opts     Options
	patterns []string
}

type instance struct {
	id      AgentID
	handler Handler
	opts    Options
}

// Bus routes deliveries to agent instances.
type Bus struct {
	logger    zerolog.Logger
	metrics   *observability.Metrics
	queue     *commandqueue.CommandQueue
	warnAfter time.Duration

	mu        sync.RWMutex
	state     state
	types     map[AgentType]*registration
	order     []AgentType
	instances map[AgentID]*instance
}

// New creates a stopped bus. Call Start before sending.
func New(cfg Config) *Bus {
	return &Bus{
		logger:    cfg.Logger.With().Str("component", "bus").Logger(),
		metrics:   cfg.Metrics,
		queue:     commandqueue.New(commandqueue.Config{Logger: cfg.Logger, Metrics: cfg.Metrics}),
		warnAfter: cfg.QueueWarnAfter,
		types:     make(map[AgentType]*registration),
		instances: make(map[AgentID]*instance),
	}
}

// Register binds agentType to factory.
func (b *Bus) Register(agentType AgentType, factory Factory, opts Options) (AgentType, error) {
	if agentType == "" || factory == nil {
		return "", fmt.Errorf("register %q: agent type and factory are required", agentType)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateStopped {
		return "", ErrBusStopped
	}
	if _, exists := b.types[agentType]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateRegistration, agentType)
	}
	b.types[agentType] = &registration{factory: factory, opts: opts}
	b.order = append(b.order, agentType)

	b.logger.Debug().
		Str("agent_type", string(agentType)).
		Bool("accepts_broadcast", opts.AcceptsBroadcast).
		Msg("Agent type registered")
	return agentType, nil
}

// Subscribe makes agentType receive broadcasts on topics matching pattern,
// either an exact topic or Wildcard.
func (b *Bus) Subscribe(agentType AgentType, pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidTopic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	reg, ok := b.types[agentType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgentType, agentType)
	}
	for _, p := range reg.patterns {
		if p == pattern {
			return nil
		}
	}
	reg.patterns = append(reg.patterns, pattern)
	return nil
}

// AgentTypes returns registered names in registration order.
func (b *Bus) AgentTypes() []AgentType {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]AgentType(nil), b.order...)
}

// HasInstance reports whether (agentType, topic) has been materialized.
func (b *Bus) HasInstance(agentType AgentType, topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.instances[AgentID{Type: agentType, Topic: topic}]
	return ok
}

// Start opens the bus for deliveries. Starting twice is a no-op.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateCreated:
		b.state = stateRunning
		b.logger.Info().Int("agent_types", len(b.types)).Msg("Bus started")
		return nil
	case stateRunning:
		return nil
	default:
		return ErrBusStopped
	}
}

// Stop halts the bus. With drain it first waits for every queued and running
// delivery, including deliveries issued by handlers while draining; if ctx
// ends first the remaining work is aborted and ctx's error returned. Stop
// without drain during a drain aborts the remaining work, and the draining
// call then fails with ErrBusStopped.
func (b *Bus) Stop(ctx context.Context, drain bool) error {
	b.mu.Lock()
	switch b.state {
	case stateStopped:
		b.mu.Unlock()
		return nil
	case stateDraining:
		if drain {
			b.mu.Unlock()
			return nil
		}
		b.state = stateStopped
		b.mu.Unlock()
		b.queue.Abort()
		b.logger.Info().Msg("Bus drain aborted")
		return nil
	}
	if drain {
		b.state = stateDraining
	} else {
		b.state = stateStopped
	}
	b.mu.Unlock()

	if !drain {
		b.queue.Abort()
		b.logger.Info().Msg("Bus stopped without draining")
		return nil
	}

	b.logger.Info().Int("pending", b.queue.Pending()).Msg("Draining bus")
	err := b.queue.WaitIdle(ctx)

	b.mu.Lock()
	aborted := b.state == stateStopped
	b.state = stateStopped
	b.mu.Unlock()

	if err != nil {
		b.queue.Abort()
		return fmt.Errorf("failed to drain bus: %w", err)
	}
	if aborted {
		return fmt.Errorf("failed to drain bus: %w", ErrBusStopped)
	}
	if err := b.queue.Close(ctx); err != nil {
		return fmt.Errorf("failed to close bus queue: %w", err)
	}
	b.logger.Info().Msg("Bus drained and stopped")
	return nil
}

// admit checks the lifecycle for a new delivery. While draining only calls
// made from running handlers are admitted.
func (b *Bus) admit(ctx context.Context) error {
	b.mu.RLock()
	st := b.state
	b.mu.RUnlock()

	switch st {
	case stateCreated:
		return ErrBusNotRunning
	case stateRunning:
		return nil
	case stateDraining:
		if _, ok := SenderFromContext(ctx); ok {
			return nil
		}
		return ErrBusStopped
	default:
		return ErrBusStopped
	}
}

// instance returns the (agentType, topic) instance, creating it on first use.
func (b *Bus) instance(agentType AgentType, topic string) (*instance, error) {
	id := AgentID{Type: agentType, Topic: topic}

	b.mu.RLock()
	inst, ok := b.instances[id]
	b.mu.RUnlock()
	if ok {
		return inst, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if inst, ok := b.instances[id]; ok {
		return inst, nil
	}
	reg, ok := b.types[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgentType, agentType)
	}
	handler, err := reg.factory(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent %s: %w", id, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("failed to create agent %s: factory returned nil handler", id)
	}
	inst = &instance{id: id, handler: handler, opts: reg.opts}
	b.instances[id] = inst
	b.metrics.SetAgentInstances(len(b.instances))

	b.logger.Debug().Str("agent", id.String()).Msg("Agent instance created")
	return inst, nil
}

// Send delivers payload to the agentType instance bound to topic and waits
// for its reply. Cancelling ctx abandons the wait and cancels the handler.
func (b *Bus) Send(ctx context.Context, payload any, agentType AgentType, topic string) (any, error) {
	if err := b.admit(ctx); err != nil {
		return nil, err
	}
	if !validTopic(topic) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if sender, ok := SenderFromContext(ctx); ok && sender == (AgentID{Type: agentType, Topic: topic}) {
		return nil, fmt.Errorf("%w: %s", ErrSelfSend, sender)
	}

	ctx, span := tracing.StartSpan(ctx, tracing.TracerBus, "bus.send",
		attribute.String("agent_type", string(agentType)),
		attribute.String("topic", topic),
	)
	value, err := b.send(ctx, payload, agentType, topic)
	tracing.EndSpan(span, err)
	return value, err
}

func (b *Bus) send(ctx context.Context, payload any, agentType AgentType, topic string) (any, error) {
	inst, err := b.instance(agentType, topic)
	if err != nil {
		return nil, err
	}
	env := newEnvelope(ctx, payload, topic, ModeRequestReply, false)
	fut, err := b.submit(ctx, inst, env)
	if err != nil {
		return nil, err
	}
	value, err := fut.Wait(ctx)
	return value, mapQueueErr(err)
}

// Post delivers payload without waiting. The handler runs with the
// correlation ids of ctx but not its cancellation; its failure is logged.
func (b *Bus) Post(ctx context.Context, payload any, agentType AgentType, topic string) error {
	if err := b.admit(ctx); err != nil {
		return err
	}
	if !validTopic(topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	inst, err := b.instance(agentType, topic)
	if err != nil {
		return err
	}
	env := newEnvelope(ctx, payload, topic, ModeFireAndForget, false)
	_, err = b.submit(detach(ctx), inst, env)
	return err
}

// Publish broadcasts payload to every agent type subscribed to topic. Direct
// only types are materialized and skipped.
func (b *Bus) Publish(ctx context.Context, payload any, topic string) error {
	if err := b.admit(ctx); err != nil {
		return err
	}
	if !validTopic(topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	b.mu.RLock()
	var targets []AgentType
	for _, name := range b.order {
		for _, p := range b.types[name].patterns {
			if matchTopic(p, topic) {
				targets = append(targets, name)
				break
			}
		}
	}
	b.mu.RUnlock()

	env := newEnvelope(ctx, payload, topic, ModeFireAndForget, true)
	bctx := detach(ctx)

	var errs []error
	for _, agentType := range targets {
		inst, err := b.instance(agentType, topic)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !inst.opts.AcceptsBroadcast {
			b.metrics.RecordDelivery(string(agentType), "broadcast", "dropped", 0)
			b.logger.Debug().Str("agent", inst.id.String()).Msg("Broadcast dropped for direct-only agent")
			continue
		}
		if _, err := b.submit(bctx, inst, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) submit(ctx context.Context, inst *instance, env Envelope) (*commandqueue.Future, error) {
	mode := "send"
	switch {
	case env.Broadcast:
		mode = "broadcast"
	case env.Mode == ModeFireAndForget:
		mode = "post"
	}

	task := func(ctx context.Context) (any, error) {
		started := time.Now()
		value, err := b.dispatch(ctx, inst, env)
		status := "success"
		if err != nil {
			status = "error"
			if env.Mode == ModeFireAndForget {
				logger := tracing.LoggerFromContext(ctx, b.logger)
				logger.Error().
					Err(err).
					Str("agent", inst.id.String()).
					Str("envelope_id", env.ID).
					Msg("Fire-and-forget delivery failed")
			}
		}
		b.metrics.RecordDelivery(string(inst.id.Type), mode, status, time.Since(started))
		return value, err
	}

	var opts *commandqueue.TaskOptions
	if b.warnAfter > 0 {
		opts = &commandqueue.TaskOptions{WarnAfter: b.warnAfter}
	}
	fut, err := b.queue.Submit(ctx, inst.id.String(), task, opts)
	if err != nil {
		return nil, mapQueueErr(err)
	}
	return fut, nil
}

// dispatch runs the handler with the instance recorded as sender on ctx.
func (b *Bus) dispatch(ctx context.Context, inst *instance, env Envelope) (value any, err error) {
	ctx = context.WithValue(ctx, senderKey{}, inst.id)
	ctx = tracing.WithAgent(ctx, string(inst.id.Type))

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("agent", inst.id.String()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Handler panicked")
			value, err = nil, fmt.Errorf("%w: %s: %v", ErrHandlerPanic, inst.id, r)
		}
	}()
	return inst.handler.Handle(ctx, env)
}

// detach keeps correlation ids and the sender marker but drops cancellation.
func detach(ctx context.Context) context.Context {
	out := tracing.Detach(ctx)
	if sender, ok := SenderFromContext(ctx); ok {
		out = context.WithValue(out, senderKey{}, sender)
	}
	return out
}

func mapQueueErr(err error) error {
	if errors.Is(err, commandqueue.ErrClosed) {
		return ErrBusStopped
	}
	return err
}
