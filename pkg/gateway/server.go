// Package gateway exposes the engine over HTTP: request submission, event
// streaming over websockets or NDJSON, the tool catalog, health and metrics.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/bus"
	"github.com/harun/stepwise/pkg/capability"
	"github.com/harun/stepwise/pkg/engine"
	"github.com/harun/stepwise/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const maxBodyBytes = 1 << 20

// Engine is the part of *engine.Engine the gateway drives.
type Engine interface {
	Submit(ctx context.Context, req engine.Request, sessionID string) (string, error)
	Stream(id string) (*session.EventStream, error)
	Tools() []capability.Descriptor
}

// Config holds server configuration.
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	Engine       Engine
	Logger       zerolog.Logger
	Metrics      *observability.Metrics
	// RequestsPerMinute and MaxConcurrent limit submits per client address.
	RequestsPerMinute int
	MaxConcurrent     int
	IdempotencyTTL    time.Duration
	// WriteTimeout bounds one websocket frame write.
	WriteTimeout time.Duration
}

// Server is the HTTP gateway.
type Server struct {
	cfg         Config
	engine      Engine
	logger      zerolog.Logger
	metrics     *observability.Metrics
	auth        *Authenticator
	limiters    *limiterSet
	idempotency *idempotencyCache
	upgrader    websocket.Upgrader
	clients     *clientRegistry
	handler     http.Handler

	submitMu sync.Mutex

	mu       sync.Mutex
	server   *http.Server
	addr     net.Addr
	shutting bool
}

// NewServer validates cfg and builds the routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 5 * time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:         cfg,
		engine:      cfg.Engine,
		logger:      cfg.Logger.With().Str("component", "gateway").Logger(),
		metrics:     cfg.Metrics,
		auth:        NewAuthenticator(cfg.SharedSecret),
		limiters:    newLimiterSet(cfg.RequestsPerMinute, cfg.MaxConcurrent),
		idempotency: newIdempotencyCache(cfg.IdempotencyTTL),
		clients:     newClientRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	api := http.NewServeMux()
	api.Handle("POST /v1/requests", s.instrument("submit", http.HandlerFunc(s.handleSubmit)))
	api.Handle("GET /v1/sessions/{id}/events", s.instrument("events", http.HandlerFunc(s.handleEvents)))
	api.Handle("GET /v1/tools", s.instrument("tools", http.HandlerFunc(s.handleTools)))

	mux := http.NewServeMux()
	mux.Handle("/v1/", s.auth.Middleware(api))
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.handler = mux

	if !s.auth.Enabled() {
		s.logger.Warn().Msg("Gateway shared secret not set, authentication disabled")
	}
	return s, nil
}

// Handler returns the root handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on Host:Port and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("gateway already started")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.addr = ln.Addr()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr.String()).Msg("Starting gateway")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop refuses new streams, closes attached ones and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.shutting = true
	srv := s.server
	s.mu.Unlock()

	closed := s.clients.closeAll()
	s.logger.Info().Int("streams", closed).Msg("Shutting down gateway")
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown gateway: %w", err)
	}
	s.logger.Info().Msg("Gateway stopped")
	return nil
}

// Clients lists attached event streams.
func (s *Server) Clients() []ClientInfo {
	return s.clients.list()
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutting
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get("X-Client-Id")
	if clientID == "" {
		clientID = gonanoid.Must()
	}
	ctx := withClientID(r.Context(), clientID)
	if traceID := r.Header.Get("X-Trace-Id"); traceID != "" {
		ctx = tracing.WithTraceID(ctx, traceID)
	} else {
		ctx = tracing.WithTraceID(ctx, tracing.NewID())
	}

	limiter := s.limiters.get(clientKey(r))
	if ok, reason := limiter.Acquire(); !ok {
		writeError(w, http.StatusTooManyRequests, reason)
		return
	}
	defer limiter.Release()

	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	key := req.IdempotencyKey
	if h := r.Header.Get("Idempotency-Key"); h != "" {
		key = h
	}

	if key != "" {
		s.submitMu.Lock()
		defer s.submitMu.Unlock()
		if cached, ok := s.idempotency.get(key); ok {
			writeJSON(w, http.StatusAccepted, cached)
			return
		}
	}

	ctx, span := tracing.StartSpan(ctx, tracing.TracerGateway, "gateway.submit",
		attribute.String("client_id", clientID),
	)
	// the run outlives this request
	id, err := s.engine.Submit(tracing.Detach(ctx), engine.Request{
		Message:  req.Message,
		Files:    req.Files,
		MaxSteps: req.MaxSteps,
	}, req.SessionID)
	tracing.EndSpan(span, err)
	if err != nil {
		code := statusFor(err)
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Warn().Err(err).Int("status", code).Msg("Submit rejected")
		writeError(w, code, err.Error())
		return
	}

	resp := SubmitResponse{
		SessionID: id,
		EventsURL: "/v1/sessions/" + id + "/events",
		ClientID:  clientID,
	}
	if key != "" {
		s.idempotency.put(key, resp)
	}
	logger := tracing.LoggerFromContext(tracing.WithSessionID(ctx, id), s.logger)
	logger.Info().
		Str("client_id", clientID).
		Msg("Request accepted")
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ToolsResponse{Tools: s.engine.Tools()})
}

// statusFor maps engine and session errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrEmptyMessage),
		errors.Is(err, session.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, session.ErrStreamInUse):
		return http.StatusConflict
	case errors.Is(err, session.ErrRegistryClosed),
		errors.Is(err, bus.ErrBusNotRunning),
		errors.Is(err, bus.ErrBusStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg, Code: code})
}

// instrument counts responses per route.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordGatewayRequest(route, rec.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
