package session

import (
	"context"
	"io"
	"iter"
	"sync"
)

// EventStream reads one request's events from a session queue. It is
// forward-only and not restartable; use it from a single goroutine.
type EventStream struct {
	session *Session

	mu       sync.Mutex
	finished bool
	released bool
	stop     chan struct{}
}

func newEventStream(s *Session) *EventStream {
	return &EventStream{session: s, stop: make(chan struct{})}
}

// SessionID returns the id of the session being read.
func (st *EventStream) SessionID() string {
	return st.session.id
}

// Next returns the next event, blocking while the queue is empty. After the
// final event it returns io.EOF. It returns ErrRegistryClosed once the
// registry shuts down and the queue is empty, and ctx's error if ctx ends.
func (st *EventStream) Next(ctx context.Context) (Event, error) {
	s := st.session
	for {
		st.mu.Lock()
		finished, released := st.finished, st.released
		st.mu.Unlock()
		if finished {
			return Event{}, io.EOF
		}
		if released {
			return Event{}, ErrStreamReleased
		}

		ev, ok, err := s.pop()
		if err != nil {
			return Event{}, err
		}
		if ok {
			if ev.Final {
				st.mu.Lock()
				st.finished = true
				st.mu.Unlock()
				s.detach(st)
			}
			return ev, nil
		}

		select {
		case <-s.notify:
		case <-s.done:
		case <-st.stop:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// All adapts Next to a range-over-func sequence. Iteration stops silently
// after the final event; any other error is yielded once and ends it.
func (st *EventStream) All(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := st.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Release detaches the stream before the final event, leaving unread events
// queued for the next stream. Releasing a finished stream is a no-op.
func (st *EventStream) Release() {
	st.mu.Lock()
	if st.finished || st.released {
		st.mu.Unlock()
		return
	}
	st.released = true
	close(st.stop)
	st.mu.Unlock()
	st.session.detach(st)
}

// Finished reports whether the final event has been read.
func (st *EventStream) Finished() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.finished
}
