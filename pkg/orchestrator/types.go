package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/stepwise/pkg/bus"
)

// AgentType is the bus name of the orchestrator.
const AgentType bus.AgentType = "Orchestrator"

// DefaultMaxSteps bounds a run when the request leaves MaxSteps unset.
const DefaultMaxSteps = 5

var (
	// ErrInvalidToolSelection is recorded when the predicted tool is not in
	// the catalog.
	ErrInvalidToolSelection = errors.New("invalid tool selection")
	// ErrMalformedArgument is recorded when the generated argument is not
	// exactly one JSON object.
	ErrMalformedArgument = errors.New("malformed tool argument")
	// ErrUnexpectedPayload is returned for deliveries the orchestrator does
	// not handle.
	ErrUnexpectedPayload = errors.New("unexpected payload")
)

// Request is one user request posted to a session's orchestrator.
type Request struct {
	Message  string   `json:"message"`
	Files    []string `json:"files,omitempty"`
	MaxSteps int      `json:"max_steps,omitempty"`
}

// Phase is a state of the loop.
type Phase int

const (
	PhaseAnalyzing Phase = iota
	PhasePredicting
	PhaseExecuting
	PhaseVerifying
	PhaseFinalizing
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseAnalyzing:
		return "ANALYZING"
	case PhasePredicting:
		return "PREDICTING"
	case PhaseExecuting:
		return "EXECUTING"
	case PhaseVerifying:
		return "VERIFYING"
	case PhaseFinalizing:
		return "FINALIZING"
	case PhaseDone:
		return "DONE"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// StepRecord is the outcome of one step. Exactly one of Result and Error is
// meaningful.
type StepRecord struct {
	StepNo   int    `json:"step"`
	ToolID   string `json:"tool_name"`
	SubGoal  string `json:"sub_goal"`
	Argument string `json:"argument"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether the step ended in an error.
func (r StepRecord) Failed() bool {
	return r.Error != ""
}

// History is the ordered record of a run's steps.
type History struct {
	steps []StepRecord
}

// Append adds rec. Step numbers must increase.
func (h *History) Append(rec StepRecord) {
	h.steps = append(h.steps, rec)
}

// Steps returns a copy of the records in step order.
func (h *History) Steps() []StepRecord {
	out := make([]StepRecord, len(h.steps))
	copy(out, h.steps)
	return out
}

// Len returns the number of recorded steps.
func (h *History) Len() int {
	return len(h.steps)
}

// Step returns the record for stepNo.
func (h *History) Step(stepNo int) (StepRecord, bool) {
	for _, s := range h.steps {
		if s.StepNo == stepNo {
			return s, true
		}
	}
	return StepRecord{}, false
}

// String renders the history for reasoning prompts.
func (h *History) String() string {
	if len(h.steps) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range h.steps {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Step %d:\n  tool_name: %s\n  sub_goal: %s\n  argument: %s\n", s.StepNo, s.ToolID, s.SubGoal, s.Argument)
		if s.Failed() {
			fmt.Fprintf(&b, "  result: Error executing tool: %s\n", s.Error)
		} else {
			fmt.Fprintf(&b, "  result: %s\n", renderValue(s.Result))
		}
	}
	return b.String()
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
