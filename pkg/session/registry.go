package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Publisher is the broadcast half of the bus.
type Publisher interface {
	Publish(ctx context.Context, payload any, topic string) error
}

// Config configures a Registry.
type Config struct {
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Audit   *observability.AuditLogger
	// Bus receives the Bootstrap broadcast for each new session. Optional.
	Bus Publisher
	// TranscriptDir, when set, receives one JSONL file of events per session.
	TranscriptDir string
}

// Registry creates and tracks sessions.
type Registry struct {
	logger        zerolog.Logger
	metrics       *observability.Metrics
	audit         *observability.AuditLogger
	bus           Publisher
	transcriptDir string

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		logger:        cfg.Logger.With().Str("component", "session").Logger(),
		metrics:       cfg.Metrics,
		audit:         cfg.Audit,
		bus:           cfg.Bus,
		transcriptDir: cfg.TranscriptDir,
		sessions:      make(map[string]*Session),
	}
}

// ValidateID reports whether id can name a session: non-empty after trimming,
// no wildcard, no path separators, no parent references and no NUL bytes.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	case strings.Contains(id, "*"):
		return fmt.Errorf("%w: contains wildcard", ErrInvalidSessionID)
	case strings.Contains(id, ".."):
		return fmt.Errorf("%w: contains '..'", ErrInvalidSessionID)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: contains path separators", ErrInvalidSessionID)
	case strings.ContainsRune(id, 0):
		return fmt.Errorf("%w: contains NUL", ErrInvalidSessionID)
	}
	return nil
}

// NormalizeID is the canonical form of a caller-supplied session id. Every
// registry lookup applies it, so " chat-1" and "chat-1" name one session.
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}

// Open creates a session. An empty requestedID gets a fresh UUID. The
// returned id is the normalized one.
func (r *Registry) Open(ctx context.Context, requestedID string) (string, error) {
	id := NormalizeID(requestedID)
	if requestedID == "" {
		id = uuid.NewString()
	} else if err := ValidateID(id); err != nil {
		return "", err
	}

	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(ctx, tracing.TracerOrchestrator, "session.open",
		attribute.String("session_id", id),
	)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	var writer *transcriptWriter
	if r.transcriptDir != "" {
		writer, err = openTranscript(r.transcriptDir, id)
		if err != nil {
			return "", err
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = writer.close()
		err = ErrRegistryClosed
		return "", err
	}
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		_ = writer.close()
		err = fmt.Errorf("%w: %s", ErrSessionAlreadyExists, id)
		return "", err
	}
	r.sessions[id] = newSession(id, r.logger.With().Str("session_id", id).Logger(), writer)
	r.order = append(r.order, id)
	active := len(r.sessions)
	r.mu.Unlock()

	r.metrics.RecordSessionOpened(active)
	r.audit.RecordSession(ctx, "open", id)
	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Info().Msg("Session opened")

	if r.bus != nil {
		if err = r.bus.Publish(ctx, Bootstrap{}, id); err != nil {
			r.remove(id)
			err = fmt.Errorf("failed to bootstrap session %s: %w", id, err)
			return "", err
		}
	}
	return id, nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	active := len(r.sessions)
	r.mu.Unlock()
	if ok {
		s.close()
	}
	r.metrics.SetActiveSessions(active)
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, error) {
	id = NormalizeID(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// Stream attaches a new event stream to the session.
func (r *Registry) Stream(id string) (*EventStream, error) {
	id = NormalizeID(id)
	if err := ValidateID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSession, err)
	}
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return s.attach()
}

// List returns session ids in creation order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close shuts every session down. Blocked streams return ErrRegistryClosed
// once their queues are empty, and Open fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	r.logger.Info().Int("sessions", len(sessions)).Msg("Session registry closed")
}
