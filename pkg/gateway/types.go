package gateway

import (
	"time"

	"github.com/harun/stepwise/pkg/capability"
)

// SubmitRequest is the body of POST /v1/requests.
type SubmitRequest struct {
	Message  string   `json:"message"`
	Files    []string `json:"files,omitempty"`
	MaxSteps int      `json:"max_steps,omitempty"`
	// SessionID reuses a session when it exists and names a new one
	// otherwise. Empty opens a session with a generated id.
	SessionID      string `json:"session_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SubmitResponse acknowledges a queued request.
type SubmitResponse struct {
	SessionID string `json:"session_id"`
	EventsURL string `json:"events_url"`
	ClientID  string `json:"client_id"`
}

// ToolsResponse lists the capability catalog.
type ToolsResponse struct {
	Tools []capability.Descriptor `json:"tools"`
}

// ErrorResponse is the body of every non-2xx reply and of the error frame
// that ends a broken stream.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// StreamKind is the transport of an attached event stream.
type StreamKind string

const (
	StreamWebSocket StreamKind = "websocket"
	StreamNDJSON    StreamKind = "ndjson"
)

// ClientInfo describes one attached event stream.
type ClientInfo struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Kind        StreamKind `json:"kind"`
	RemoteAddr  string     `json:"remote_addr"`
	ConnectedAt time.Time  `json:"connected_at"`
}
