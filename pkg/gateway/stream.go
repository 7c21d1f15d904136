package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/stepwise/internal/tracing"
	"github.com/harun/stepwise/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// handleEvents attaches the session's event stream and relays it as
// websocket text frames, or as NDJSON when the request is not an upgrade.
// The stream ends after the final event. A client that leaves early
// releases the stream and unread events stay queued for the next one.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		writeError(w, http.StatusServiceUnavailable, "gateway is shutting down")
		return
	}
	id := r.PathValue("id")
	st, err := s.engine.Stream(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	defer st.Release()

	clientID := gonanoid.Must()
	ctx, cancel := context.WithCancel(tracing.WithSessionID(withClientID(r.Context(), clientID), id))
	defer cancel()
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("client_id", clientID).Logger()

	kind := StreamNDJSON
	if websocket.IsWebSocketUpgrade(r) {
		kind = StreamWebSocket
	}
	info := ClientInfo{
		ID:          clientID,
		SessionID:   id,
		Kind:        kind,
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	if kind == StreamWebSocket {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader already replied
			logger.Warn().Err(err).Msg("Failed to upgrade connection")
			return
		}
		defer conn.Close()
		// the hijacked request context no longer tracks the connection
		ctx, cancel = context.WithCancel(tracing.Detach(ctx))
		defer cancel()
		s.attach(info, func() { cancel(); _ = conn.Close() })
		defer s.detach(info)
		s.streamWebSocket(ctx, conn, st, logger)
		return
	}

	s.attach(info, cancel)
	defer s.detach(info)
	s.streamNDJSON(ctx, w, st, logger)
}

func (s *Server) attach(info ClientInfo, closeFn func()) {
	s.clients.add(&streamClient{info: info, close: closeFn})
	s.metrics.AddGatewayStreams(1)
	s.logger.Info().
		Str("client_id", info.ID).
		Str("session_id", info.SessionID).
		Str("kind", string(info.Kind)).
		Msg("Stream attached")
}

func (s *Server) detach(info ClientInfo) {
	s.clients.remove(info.ID)
	s.metrics.AddGatewayStreams(-1)
	s.logger.Info().Str("client_id", info.ID).Msg("Stream detached")
}

func (s *Server) streamWebSocket(ctx context.Context, conn *websocket.Conn, st *session.EventStream, logger zerolog.Logger) {
	// Reading is required to process control frames; any read error means
	// the client is gone.
	readCtx, readCancel := context.WithCancel(ctx)
	defer readCancel()
	go func() {
		defer readCancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev, err := range st.All(readCtx) {
		if err != nil {
			if readCtx.Err() == nil {
				s.writeFrame(conn, ErrorResponse{Error: err.Error(), Code: statusFor(err)})
			}
			logger.Debug().Err(err).Msg("Stream ended early")
			return
		}
		if err := s.writeFrame(conn, ev); err != nil {
			logger.Debug().Err(err).Msg("Failed to write event")
			return
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "final event delivered"))
}

func (s *Server) writeFrame(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (s *Server) streamNDJSON(ctx context.Context, w http.ResponseWriter, st *session.EventStream, logger zerolog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for ev, err := range st.All(ctx) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				_ = enc.Encode(ErrorResponse{Error: err.Error(), Code: statusFor(err)})
				flusher.Flush()
			}
			logger.Debug().Err(err).Msg("Stream ended early")
			return
		}
		if err := enc.Encode(ev); err != nil {
			logger.Debug().Err(err).Msg("Failed to write event")
			return
		}
		flusher.Flush()
	}
}
