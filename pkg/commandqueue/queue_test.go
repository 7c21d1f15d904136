package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *CommandQueue {
	t.Helper()
	cq := New(Config{Logger: zerolog.Nop()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = cq.Close(ctx)
	})
	return cq
}

func TestCommandQueue_Enqueue(t *testing.T) {
	cq := newTestQueue(t)

	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (any, error) {
		return "result", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "result", result)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := newTestQueue(t)

	want := errors.New("task failed")
	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (any, error) {
		return nil, want
	}, nil)

	assert.ErrorIs(t, err, want)
	assert.Nil(t, result)
}

func TestCommandQueue_PanicRecovered(t *testing.T) {
	cq := newTestQueue(t)

	_, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (any, error) {
		panic("boom")
	}, nil)
	assert.ErrorIs(t, err, ErrPanic)

	// The lane keeps working afterwards.
	v, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (any, error) {
		return 1, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestCommandQueue_FIFOSingleFlight(t *testing.T) {
	cq := newTestQueue(t)

	var (
		mu      sync.Mutex
		order   []int
		running int32
		overlap bool
	)

	futures := make([]*Future, 0, 10)
	for i := 0; i < 10; i++ {
		i := i
		fut, err := cq.Submit(context.Background(), "lane", func(ctx context.Context) (any, error) {
			if atomic.AddInt32(&running, 1) > 1 {
				overlap = true
			}
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&running, -1)
			return nil, nil
		}, nil)
		require.NoError(t, err)
		futures = append(futures, fut)
	}
	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}

	assert.False(t, overlap)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestCommandQueue_LanesRunConcurrently(t *testing.T) {
	cq := newTestQueue(t)

	release := make(chan struct{})
	blocked, err := cq.Submit(context.Background(), "slow", func(ctx context.Context) (any, error) {
		<-release
		return "slow", nil
	}, nil)
	require.NoError(t, err)

	v, err := cq.Enqueue(context.Background(), "fast", func(ctx context.Context) (any, error) {
		return "fast", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fast", v)

	close(release)
	v, err = blocked.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "slow", v)
}

func TestCommandQueue_SetConcurrency(t *testing.T) {
	cq := newTestQueue(t)
	cq.SetConcurrency("wide", 3)

	var peak, current int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), "wide", func(ctx context.Context) (any, error) {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil, nil
			}, nil)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Equal(t, 3, cq.Stats()["wide"].Concurrency)
}

func TestCommandQueue_WaitIdleIncludesNestedWork(t *testing.T) {
	cq := newTestQueue(t)

	var nestedDone atomic.Bool
	_, err := cq.Submit(context.Background(), "parent", func(ctx context.Context) (any, error) {
		_, err := cq.Submit(context.Background(), "child", func(ctx context.Context) (any, error) {
			time.Sleep(30 * time.Millisecond)
			nestedDone.Store(true)
			return nil, nil
		}, nil)
		return nil, err
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cq.WaitIdle(ctx))
	assert.True(t, nestedDone.Load())
	assert.Equal(t, 0, cq.Pending())
}

func TestCommandQueue_WaitIdleTimeout(t *testing.T) {
	cq := newTestQueue(t)

	release := make(chan struct{})
	defer close(release)
	_, err := cq.Submit(context.Background(), "stuck", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, cq.WaitIdle(ctx), context.DeadlineExceeded)
}

func TestCommandQueue_AbortRejectsQueuedAndCancelsRunning(t *testing.T) {
	cq := New(Config{Logger: zerolog.Nop()})

	started := make(chan struct{})
	running, err := cq.Submit(context.Background(), "lane", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)
	require.NoError(t, err)
	<-started

	queued, err := cq.Submit(context.Background(), "lane", func(ctx context.Context) (any, error) {
		t.Error("queued task must not run after abort")
		return nil, nil
	}, nil)
	require.NoError(t, err)

	cq.Abort()

	_, err = queued.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = running.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)

	_, err = cq.Submit(context.Background(), "lane", func(ctx context.Context) (any, error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, cq.Close(context.Background()))
}

func TestCommandQueue_CloseGivesUpOnStuckTask(t *testing.T) {
	cq := New(Config{Logger: zerolog.Nop()})

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	_, err := cq.Submit(context.Background(), "lane", func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	}, nil)
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, cq.Close(ctx), context.DeadlineExceeded)
}

func TestCommandQueue_WarnAfter(t *testing.T) {
	cq := newTestQueue(t)

	release := make(chan struct{})
	_, err := cq.Submit(context.Background(), "lane", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}, nil)
	require.NoError(t, err)

	waited := make(chan int, 1)
	fut, err := cq.Submit(context.Background(), "lane", func(ctx context.Context) (any, error) {
		return nil, nil
	}, &TaskOptions{
		WarnAfter: 10 * time.Millisecond,
		OnWait:    func(_ time.Duration, pos int) { waited <- pos },
	})
	require.NoError(t, err)

	select {
	case pos := <-waited:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("OnWait not called")
	}

	close(release)
	_, err = fut.Wait(context.Background())
	assert.NoError(t, err)
}

func TestFutureWaitHonoursContext(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
