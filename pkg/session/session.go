package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Session is one conversation topic.
type Session struct {
	id        string
	createdAt time.Time
	logger    zerolog.Logger
	writer    *transcriptWriter

	mu       sync.Mutex
	state    State
	queue    []Event
	seq      uint64
	attached *EventStream
	closed   bool
	notify   chan struct{}
	done     chan struct{}
}

func newSession(id string, logger zerolog.Logger, writer *transcriptWriter) *Session {
	return &Session{
		id:        id,
		createdAt: time.Now(),
		logger:    logger,
		writer:    writer,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns WAITING or PROCESSING.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TryBeginProcessing moves WAITING to PROCESSING and reports whether it did.
func (s *Session) TryBeginProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateProcessing {
		return false
	}
	s.state = StateProcessing
	return true
}

// EndProcessing returns the session to WAITING.
func (s *Session) EndProcessing() {
	s.mu.Lock()
	s.state = StateWaiting
	s.mu.Unlock()
}

// Emit stamps ev with the session id, the next sequence number and the
// current time, then queues it. The stamped event is returned.
func (s *Session) Emit(ev Event) (Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Event{}, ErrRegistryClosed
	}
	s.seq++
	ev.SessionID = s.id
	ev.Seq = s.seq
	ev.Timestamp = time.Now().UTC()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}

	if s.writer != nil {
		if err := s.writer.append(ev); err != nil {
			s.logger.Warn().Err(err).Uint64("seq", ev.Seq).Msg("Failed to write transcript")
		}
	}
	return ev, nil
}

// Pending returns the number of queued, unread events.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Session) attach() (*EventStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrRegistryClosed
	}
	if s.attached != nil {
		return nil, ErrStreamInUse
	}
	st := newEventStream(s)
	s.attached = st
	return st, nil
}

func (s *Session) detach(st *EventStream) {
	s.mu.Lock()
	if s.attached == st {
		s.attached = nil
	}
	s.mu.Unlock()
}

// pop removes the head of the queue when there is one.
func (s *Session) pop() (Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		return ev, true, nil
	}
	if s.closed {
		return Event{}, false, ErrRegistryClosed
	}
	return Event{}, false, nil
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	if s.writer != nil {
		_ = s.writer.close()
	}
}
