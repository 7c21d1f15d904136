package session

import "time"

// EventType classifies an outbound event.
type EventType string

const (
	EventToolRequest  EventType = "ToolRequest"
	EventToolResponse EventType = "ToolResponse"
	EventError        EventType = "Error"
	EventFinalOutput  EventType = "FinalOutput"
)

// Event is one progress item streamed to the caller. ToolUsed and Command
// are null when they do not apply.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id"`
	Message    string    `json:"message"`
	ToolUsed   *string   `json:"tool_used"`
	Command    *string   `json:"command"`
	Final      bool      `json:"final"`
	Conclusion bool      `json:"conclusion"`
	StepNo     int       `json:"step_no"`
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
}

// Bootstrap is the no-op broadcast published on a new session topic.
type Bootstrap struct{}

// State is the processing state of a session.
type State int

const (
	StateWaiting State = iota
	StateProcessing
)

func (s State) String() string {
	if s == StateProcessing {
		return "PROCESSING"
	}
	return "WAITING"
}
