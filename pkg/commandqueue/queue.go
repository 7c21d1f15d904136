package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrClosed is returned for tasks submitted after, or still queued at,
	// shutdown.
	ErrClosed = errors.New("command queue closed")
	// ErrPanic wraps a recovered task panic.
	ErrPanic = errors.New("task panicked")
)

// Task is a unit of work run on a lane.
type Task func(ctx context.Context) (any, error)

// TaskOptions tune a single submission.
type TaskOptions struct {
	// WarnAfter logs a warning when the task is still queued after this long.
	WarnAfter time.Duration
	// OnWait is called alongside the warning with the wait and queue position.
	OnWait func(wait time.Duration, queuePos int)
}

// Config configures a CommandQueue.
type Config struct {
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	// DefaultConcurrency applies to lanes created on first use. Defaults to 1.
	DefaultConcurrency int
}

type taskRecord struct {
	id         string
	lane       string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	future     *Future
}

type laneState struct {
	mu          sync.Mutex
	concurrency int
	queue       []*taskRecord
	running     int
}

// Future is the eventual result of a submitted task.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value any, err error) {
	f.value, f.err = value, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx ends. Giving up on the wait does
// not cancel the task.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats is a snapshot of one lane.
type Stats struct {
	Queued      int `json:"queued"`
	Running     int `json:"running"`
	Concurrency int `json:"concurrency"`
}

// CommandQueue provides lane-based task serialization with concurrency control.
type CommandQueue struct {
	logger             zerolog.Logger
	metrics            *observability.Metrics
	defaultConcurrency int

	mu        sync.Mutex
	lanes     map[string]*laneState
	taskIDSeq uint64
	pending   int
	idle      chan struct{}
	closed    bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty queue. Lanes are created on first use.
func New(cfg Config) *CommandQueue {
	ctx, cancel := context.WithCancel(context.Background())
	conc := cfg.DefaultConcurrency
	if conc <= 0 {
		conc = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &CommandQueue{
		logger:             cfg.Logger.With().Str("component", "commandqueue").Logger(),
		metrics:            cfg.Metrics,
		defaultConcurrency: conc,
		lanes:              make(map[string]*laneState),
		idle:               idle,
		ctx:                ctx,
		cancel:             cancel,
	}
}

// SetConcurrency sets the concurrency limit of a lane, creating it if needed.
func (cq *CommandQueue) SetConcurrency(lane string, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	cq.mu.Lock()
	ls := cq.laneLocked(lane)
	cq.mu.Unlock()

	ls.mu.Lock()
	grew := concurrency > ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	if grew {
		cq.processLane(lane, ls)
	}
}

func (cq *CommandQueue) laneLocked(lane string) *laneState {
	ls, ok := cq.lanes[lane]
	if !ok {
		ls = &laneState{concurrency: cq.defaultConcurrency}
		cq.lanes[lane] = ls
		cq.logger.Debug().Str("lane", lane).Int("concurrency", ls.concurrency).Msg("Lane initialized")
	}
	return ls
}

// Submit queues task on lane and returns immediately. The task runs with a
// context derived from ctx that is also cancelled when the queue aborts.
func (cq *CommandQueue) Submit(ctx context.Context, lane string, task Task, options *TaskOptions) (*Future, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil, ErrClosed
	}
	ls := cq.laneLocked(lane)
	cq.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s#%d", lane, cq.taskIDSeq),
		lane:       lane,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		future:     newFuture(),
	}
	if options != nil {
		record.options = *options
	}
	if cq.pending == 0 {
		cq.idle = make(chan struct{})
	}
	cq.pending++
	pending := cq.pending
	cq.mu.Unlock()

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queued := len(ls.queue)
	ls.mu.Unlock()

	cq.metrics.SetPendingDeliveries(pending)
	logger := tracing.LoggerFromContext(ctx, cq.logger)
	logger.Debug().
		Str("lane", lane).
		Str("task_id", record.id).
		Int("queued", queued).
		Msg("Task enqueued")

	if record.options.WarnAfter > 0 {
		go cq.warnIfWaiting(ls, record)
	}
	cq.processLane(lane, ls)
	return record.future, nil
}

// Enqueue submits task and waits for its result.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (any, error) {
	fut, err := cq.Submit(ctx, lane, task, options)
	if err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// processLane starts queued tasks while the lane has capacity.
func (cq *CommandQueue) processLane(lane string, ls *laneState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue[0] = nil
		ls.queue = ls.queue[1:]

		if cq.ctx.Err() != nil {
			cq.finish(record, nil, ErrClosed)
			continue
		}

		ls.running++
		cq.wg.Add(1)
		go cq.execute(ls, record)
	}
}

func (cq *CommandQueue) execute(ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	ctx, span := tracing.StartSpan(record.ctx, tracing.TracerBus, "commandqueue.execute",
		attribute.String("lane", record.lane),
		attribute.String("task_id", record.id),
	)
	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(cq.ctx, cancel)

	started := time.Now()
	value, err := cq.run(runCtx, record)
	duration := time.Since(started)

	stop()
	cancel()
	tracing.EndSpan(span, err)

	logger := tracing.LoggerFromContext(ctx, cq.logger)
	if err != nil {
		logger.Debug().Str("lane", record.lane).Str("task_id", record.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("lane", record.lane).Str("task_id", record.id).Dur("duration", duration).Msg("Task completed")
	}

	ls.mu.Lock()
	ls.running--
	ls.mu.Unlock()

	// Start the successor before releasing the pending slot so that the
	// count never dips to zero between two tasks of one lane.
	cq.processLane(record.lane, ls)
	cq.finish(record, value, err)
}

func (cq *CommandQueue) run(ctx context.Context, record *taskRecord) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			cq.logger.Error().
				Str("lane", record.lane).
				Str("task_id", record.id).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Task panicked")
			value, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return record.task(ctx)
}

// finish resolves the future and releases the pending slot.
func (cq *CommandQueue) finish(record *taskRecord, value any, err error) {
	record.future.resolve(value, err)

	cq.mu.Lock()
	cq.pending--
	pending := cq.pending
	if pending == 0 {
		close(cq.idle)
	}
	cq.mu.Unlock()

	cq.metrics.SetPendingDeliveries(pending)
}

func (cq *CommandQueue) warnIfWaiting(ls *laneState, record *taskRecord) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-record.future.done:
		return
	case <-cq.ctx.Done():
		return
	}

	ls.mu.Lock()
	pos := -1
	for i, r := range ls.queue {
		if r == record {
			pos = i
			break
		}
	}
	ls.mu.Unlock()
	if pos < 0 {
		return
	}

	wait := time.Since(record.enqueuedAt)
	logger := tracing.LoggerFromContext(record.ctx, cq.logger)
	logger.Warn().
		Str("lane", record.lane).
		Str("task_id", record.id).
		Dur("wait", wait).
		Int("queue_pos", pos).
		Msg("Task waiting longer than expected")
	if record.options.OnWait != nil {
		record.options.OnWait(wait, pos)
	}
}

// Pending returns the number of queued plus running tasks.
func (cq *CommandQueue) Pending() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.pending
}

// WaitIdle blocks until no task is queued or running, or ctx ends.
func (cq *CommandQueue) WaitIdle(ctx context.Context) error {
	cq.mu.Lock()
	idle := cq.idle
	cq.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of every lane.
func (cq *CommandQueue) Stats() map[string]Stats {
	cq.mu.Lock()
	lanes := make(map[string]*laneState, len(cq.lanes))
	for name, ls := range cq.lanes {
		lanes[name] = ls
	}
	cq.mu.Unlock()

	stats := make(map[string]Stats, len(lanes))
	for name, ls := range lanes {
		ls.mu.Lock()
		stats[name] = Stats{Queued: len(ls.queue), Running: ls.running, Concurrency: ls.concurrency}
		ls.mu.Unlock()
	}
	return stats
}

// Abort stops the queue without waiting: new submissions and queued tasks
// fail with ErrClosed, running tasks have their contexts cancelled.
func (cq *CommandQueue) Abort() {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return
	}
	cq.closed = true
	cq.cancel()
	lanes := make([]*laneState, 0, len(cq.lanes))
	for _, ls := range cq.lanes {
		lanes = append(lanes, ls)
	}
	cq.mu.Unlock()

	rejected := 0
	for _, ls := range lanes {
		ls.mu.Lock()
		queued := ls.queue
		ls.queue = nil
		ls.mu.Unlock()
		for _, record := range queued {
			cq.finish(record, nil, ErrClosed)
		}
		rejected += len(queued)
	}
	cq.logger.Debug().Int("rejected", rejected).Msg("Command queue aborted")
}

// Close aborts the queue and waits for running tasks to return, or for ctx
// to end.
func (cq *CommandQueue) Close(ctx context.Context) error {
	cq.Abort()

	done := make(chan struct{})
	go func() {
		cq.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
