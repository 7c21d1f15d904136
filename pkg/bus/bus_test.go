package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := New(Config{Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = b.Stop(context.Background(), false) })
	return b
}

func echoFactory(AgentID) (Handler, error) {
	return HandlerFunc(func(ctx context.Context, env Envelope) (any, error) {
		return env.Payload, nil
	}), nil
}

// recorder collects the payloads each instance receives.
type recorder struct {
	mu   sync.Mutex
	seen map[AgentID][]any
}

func newRecorder() *recorder {
	return &recorder{seen: make(map[AgentID][]any)}
}

func (r *recorder) factory(id AgentID) (Handler, error) {
	return HandlerFunc(func(ctx context.Context, env Envelope) (any, error) {
		r.mu.Lock()
		r.seen[id] = append(r.seen[id], env.Payload)
		r.mu.Unlock()
		return nil, nil
	}), nil
}

func (r *recorder) payloads(id AgentID) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.seen[id]...)
}

func TestRegister(t *testing.T) {
	b := newTestBus(t)

	name, err := b.Register("Echo", echoFactory, Options{})
	require.NoError(t, err)
	assert.Equal(t, AgentType("Echo"), name)

	_, err = b.Register("Echo", echoFactory, Options{})
	assert.ErrorIs(t, err, ErrDuplicateRegistration)

	_, err = b.Register("", echoFactory, Options{})
	assert.Error(t, err)

	assert.Equal(t, []AgentType{"Echo"}, b.AgentTypes())
}

func TestSubscribeUnknownType(t *testing.T) {
	b := newTestBus(t)
	assert.ErrorIs(t, b.Subscribe("Nobody", Wildcard), ErrUnknownAgentType)
}

func TestLifecycleErrors(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop()})
	_, err := b.Register("Echo", echoFactory, Options{})
	require.NoError(t, err)

	_, err = b.Send(context.Background(), "x", "Echo", "s1")
	assert.ErrorIs(t, err, ErrBusNotRunning)

	require.NoError(t, b.Start())
	require.NoError(t, b.Start())
	require.NoError(t, b.Stop(context.Background(), true))

	_, err = b.Send(context.Background(), "x", "Echo", "s1")
	assert.ErrorIs(t, err, ErrBusStopped)
	assert.ErrorIs(t, b.Post(context.Background(), "x", "Echo", "s1"), ErrBusStopped)
	assert.ErrorIs(t, b.Publish(context.Background(), "x", "s1"), ErrBusStopped)
	assert.ErrorIs(t, b.Start(), ErrBusStopped)
}

func TestSendRequestReply(t *testing.T) {
	b := newTestBus(t)
	_, err := b.Register("Echo", echoFactory, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())

	reply, err := b.Send(context.Background(), "ping", "Echo", "s1")
	require.NoError(t, err)
	assert.Equal(t, "ping", reply)
	assert.True(t, b.HasInstance("Echo", "s1"))
	assert.False(t, b.HasInstance("Echo", "s2"))

	_, err = b.Send(context.Background(), "ping", "Missing", "s1")
	assert.ErrorIs(t, err, ErrUnknownAgentType)

	_, err = b.Send(context.Background(), "ping", "Echo", Wildcard)
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestSendPropagatesHandlerError(t *testing.T) {
	b := newTestBus(t)
	want := errors.New("tool failed")
	_, err := b.Register("Fail", func(AgentID) (Handler, error) {
		return HandlerFunc(func(context.Context, Envelope) (any, error) { return nil, want }), nil
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())

	_, err = b.Send(context.Background(), nil, "Fail", "s1")
	assert.ErrorIs(t, err, want)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	b := newTestBus(t)
	_, err := b.Register("Panicky", func(AgentID) (Handler, error) {
		return HandlerFunc(func(context.Context, Envelope) (any, error) { panic("kaboom") }), nil
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())

	_, err = b.Send(context.Background(), nil, "Panicky", "s1")
	assert.ErrorIs(t, err, ErrHandlerPanic)
}

func TestFactoryCalledOncePerTopic(t *testing.T) {
	b := newTestBus(t)
	var created atomic.Int32
	_, err := b.Register("Counter", func(id AgentID) (Handler, error) {
		created.Add(1)
		n := 0
		return HandlerFunc(func(context.Context, Envelope) (any, error) {
			n++
			return n, nil
		}), nil
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())

	for i := 1; i <= 3; i++ {
		v, err := b.Send(context.Background(), nil, "Counter", "s1")
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	v, err := b.Send(context.Background(), nil, "Counter", "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, int32(2), created.Load())
}

func TestFactoryError(t *testing.T) {
	b := newTestBus(t)
	_, err := b.Register("Broken", func(AgentID) (Handler, error) {
		return nil, errors.New("no credentials")
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())

	_, err = b.Send(context.Background(), nil, "Broken", "s1")
	assert.ErrorContains(t, err, "no credentials")
	assert.False(t, b.HasInstance("Broken", "s1"))
}

func TestInstanceIsSingleFlight(t *testing.T) {
	b := newTestBus(t)
	var active, peak atomic.Int32
	_, err := b.Register("Slow", func(AgentID) (Handler, error) {
		return HandlerFunc(func(context.Context, Envelope) (any, error) {
			n := active.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return nil, nil
		}), nil
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Send(context.Background(), nil, "Slow", "s1")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestTopicsRunInParallel(t *testing.T) {
	b := newTestBus(t)
	release := make(chan struct{})
	_, err := b.Register("Gate", func(id AgentID) (Handler, error) {
		return HandlerFunc(func(ctx context.Context, env Envelope) (any, error) {
			if id.Topic == "stuck" {
				<-release
			}
			return id.Topic, nil
		}), nil
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())
	defer close(release)

	require.NoError(t, b.Post(context.Background(), nil, "Gate", "stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := b.Send(ctx, nil, "Gate", "free")
	require.NoError(t, err)
	assert.Equal(t, "free", v)
}

func TestPublishRouting(t *testing.T) {
	b := newTestBus(t)
	rec := newRecorder()

	_, err := b.Register("Global", rec.factory, Options{AcceptsBroadcast: true})
	require.NoError(t, err)
	_, err = b.Register("Scoped", rec.factory, Options{AcceptsBroadcast: true})
	require.NoError(t, err)
	require.NoError(t, b.Subscribe("Global", Wildcard))
	require.NoError(t, b.Subscribe("Scoped", "s1"))
	require.NoError(t, b.Start())

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), i, "s1"))
	}
	require.NoError(t, b.Publish(context.Background(), "other", "s2"))
	require.NoError(t, b.Stop(context.Background(), true))

	assert.Equal(t, []any{0, 1, 2, 3, 4}, rec.payloads(AgentID{"Global", "s1"}))
	assert.Equal(t, []any{0, 1, 2, 3, 4}, rec.payloads(AgentID{"Scoped", "s1"}))
	assert.Equal(t, []any{"other"}, rec.payloads(AgentID{"Global", "s2"}))
	assert.Empty(t, rec.payloads(AgentID{"Scoped", "s2"}))
}

func TestPublishDropsForDirectOnly(t *testing.T) {
	b := newTestBus(t)
	rec := newRecorder()

	_, err := b.Register("Direct", rec.factory, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Subscribe("Direct", Wildcard))
	require.NoError(t, b.Start())

	require.NoError(t, b.Publish(context.Background(), "bootstrap", "s1"))
	assert.True(t, b.HasInstance("Direct", "s1"), "broadcast materializes the instance")

	_, err = b.Send(context.Background(), "direct", "Direct", "s1")
	require.NoError(t, err)
	assert.Equal(t, []any{"direct"}, rec.payloads(AgentID{"Direct", "s1"}))
}

func TestEnvelopeMetadata(t *testing.T) {
	b := newTestBus(t)
	got := make(chan Envelope, 2)
	_, err := b.Register("Inner", func(AgentID) (Handler, error) {
		return HandlerFunc(func(ctx context.Context, env Envelope) (any, error) {
			got <- env
			return nil, nil
		}), nil
	}, Options{})
	require.NoError(t, err)
	_, err = b.Register("Outer", func(AgentID) (Handler, error) {
		return HandlerFunc(func(ctx context.Context, env Envelope) (any, error) {
			return b.Send(ctx, "nested", "Inner", env.Topic)
		}), nil
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())

	_, err = b.Send(context.Background(), "outer", "Outer", "s1")
	require.NoError(t, err)

	env := <-got
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "s1", env.Topic)
	assert.Equal(t, ModeRequestReply, env.Mode)
	assert.False(t, env.Broadcast)
	assert.Equal(t, AgentID{Type: "Outer", Topic: "s1"}, env.Sender)
}

func TestSelfSendRejected(t *testing.T) {
	b := newTestBus(t)
	_, err := b.Register("Loop", func(AgentID) (Handler, error) {
		return HandlerFunc(func(ctx context.Context, env Envelope) (any, error) {
			return b.Send(ctx, nil, "Loop", env.Topic)
		}), nil
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())

	_, err = b.Send(context.Background(), nil, "Loop", "s1")
	assert.ErrorIs(t, err, ErrSelfSend)
}

func TestStopDrainRunsNestedWork(t *testing.T) {
	b := newTestBus(t)
	var done atomic.Int32
	_, err := b.Register("Leaf", func(AgentID) (Handler, error) {
		return HandlerFunc(func(context.Context, Envelope) (any, error) {
			time.Sleep(10 * time.Millisecond)
			done.Add(1)
			return nil, nil
		}), nil
	}, Options{})
	require.NoError(t, err)
	_, err = b.Register("Root", func(AgentID) (Handler, error) {
		return HandlerFunc(func(ctx context.Context, env Envelope) (any, error) {
			time.Sleep(10 * time.Millisecond)
			for i := 0; i < 3; i++ {
				if _, err := b.Send(ctx, i, "Leaf", env.Topic); err != nil {
					return nil, err
				}
			}
			return nil, b.Post(ctx, "tail", "Leaf", env.Topic)
		}), nil
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Post(context.Background(), nil, "Root", fmt.Sprintf("s%d", i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Stop(ctx, true))
	assert.Equal(t, int32(12), done.Load())
}

func TestStopWithoutDrain(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop()})
	started := make(chan struct{})
	cancelled := make(chan struct{})
	var ran atomic.Int32
	_, err := b.Register("Blocker", func(AgentID) (Handler, error) {
		return HandlerFunc(func(ctx context.Context, env Envelope) (any, error) {
			if ran.Add(1) == 1 {
				close(started)
				<-ctx.Done()
				close(cancelled)
			}
			return nil, ctx.Err()
		}), nil
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())

	require.NoError(t, b.Post(context.Background(), "first", "Blocker", "s1"))
	<-started

	queued := make(chan error, 1)
	go func() {
		_, err := b.Send(context.Background(), "second", "Blocker", "s1")
		queued <- err
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, b.Stop(context.Background(), false))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight handler context not cancelled")
	}
	select {
	case err := <-queued:
		assert.ErrorIs(t, err, ErrBusStopped)
	case <-time.After(time.Second):
		t.Fatal("queued delivery not rejected")
	}
	assert.Equal(t, int32(1), ran.Load())
}

func TestStopDrainTimeout(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop()})
	release := make(chan struct{})
	defer close(release)
	_, err := b.Register("Stuck", func(AgentID) (Handler, error) {
		return HandlerFunc(func(ctx context.Context, env Envelope) (any, error) {
			<-release
			return nil, nil
		}), nil
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())
	require.NoError(t, b.Post(context.Background(), nil, "Stuck", "s1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Stop(ctx, true), context.DeadlineExceeded)
}

func TestStopWithoutDrainAbortsDrain(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop()})
	started := make(chan struct{})
	_, err := b.Register("Slow", func(AgentID) (Handler, error) {
		return HandlerFunc(func(ctx context.Context, env Envelope) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}), nil
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Start())
	require.NoError(t, b.Post(context.Background(), nil, "Slow", "s1"))
	<-started

	draining := make(chan error, 1)
	go func() { draining <- b.Stop(context.Background(), true) }()
	require.Eventually(t, func() bool {
		return errors.Is(b.admit(context.Background()), ErrBusStopped)
	}, time.Second, time.Millisecond)

	require.NoError(t, b.Stop(context.Background(), false))

	select {
	case err := <-draining:
		assert.ErrorIs(t, err, ErrBusStopped)
	case <-time.After(time.Second):
		t.Fatal("drain not aborted")
	}
	assert.NoError(t, b.Stop(context.Background(), false))
}
