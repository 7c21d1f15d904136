package reasoning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/harun/stepwise/pkg/bus"
	"github.com/harun/stepwise/pkg/capability"
)

// Agent types registered on the bus.
const (
	QueryAnalyzer    bus.AgentType = "QueryAnalyzer"
	ActionPredictor  bus.AgentType = "ActionPredictor"
	CommandGenerator bus.AgentType = "CommandGenerator"
	ContextVerifier  bus.AgentType = "ContextVerifier"
	FinalOutputAgent bus.AgentType = "FinalOutputAgent"
)

// AgentTypes lists every reasoning agent type in loop order.
func AgentTypes() []bus.AgentType {
	return []bus.AgentType{QueryAnalyzer, ActionPredictor, CommandGenerator, ContextVerifier, FinalOutputAgent}
}

// AnalyzeRequest asks QueryAnalyzer to break the request down.
type AnalyzeRequest struct {
	Query       string
	Attachments []Attachment
	Catalog     []capability.Descriptor
}

// QueryAnalysis is the QueryAnalyzer reply.
type QueryAnalysis struct {
	Summary        string `json:"concise_summary"`
	RequiredSkills string `json:"required_skills"`
	RelevantTools  string `json:"relevant_tools"`
	Considerations string `json:"additional_considerations"`
}

func (a QueryAnalysis) String() string {
	return fmt.Sprintf("Concise Summary: %s\n\nRequired Skills:\n%s\n\nRelevant Tools:\n%s\n\nAdditional Considerations:\n%s",
		a.Summary, a.RequiredSkills, a.RelevantTools, a.Considerations)
}

// PredictRequest asks ActionPredictor for the next step.
type PredictRequest struct {
	Query       string
	Attachments []Attachment
	Analysis    QueryAnalysis
	Step        int
	MaxSteps    int
	Catalog     []capability.Descriptor
	// History is the rendered step history so far.
	History string
}

// ActionPlan is the ActionPredictor reply.
type ActionPlan struct {
	Justification string `json:"justification"`
	Context       string `json:"context"`
	SubGoal       string `json:"sub_goal"`
	ToolName      string `json:"tool_name"`
}

// CommandRequest asks CommandGenerator for the tool argument.
type CommandRequest struct {
	Query       string
	Attachments []Attachment
	Analysis    QueryAnalysis
	Plan        ActionPlan
	Tool        capability.Descriptor
}

// ToolCommand is the CommandGenerator reply. Argument holds the raw argument
// text; it is parsed by the caller.
type ToolCommand struct {
	Analysis    string `json:"analysis"`
	Explanation string `json:"explanation"`
	Argument    string `json:"argument"`
}

// UnmarshalJSON accepts the argument either as a string or as an inline
// JSON value, which some models emit in JSON mode.
func (c *ToolCommand) UnmarshalJSON(data []byte) error {
	var raw struct {
		Analysis    string          `json:"analysis"`
		Explanation string          `json:"explanation"`
		Argument    json.RawMessage `json:"argument"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Analysis = raw.Analysis
	c.Explanation = raw.Explanation
	c.Argument = ""

	arg := bytes.TrimSpace(raw.Argument)
	if len(arg) == 0 || bytes.Equal(arg, []byte("null")) {
		return nil
	}
	if arg[0] == '"' {
		return json.Unmarshal(arg, &c.Argument)
	}
	c.Argument = string(arg)
	return nil
}

// VerifyRequest asks ContextVerifier whether the history answers the query.
type VerifyRequest struct {
	Query       string
	Attachments []Attachment
	Catalog     []capability.Descriptor
	Analysis    QueryAnalysis
	History     string
}

// Verdict is the ContextVerifier reply.
type Verdict struct {
	Analysis   string `json:"analysis"`
	StopSignal bool   `json:"stop_signal"`
}

// UnmarshalJSON accepts stop_signal as a boolean or a "True"/"False" string.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var raw struct {
		Analysis   string          `json:"analysis"`
		StopSignal json.RawMessage `json:"stop_signal"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Analysis = raw.Analysis
	v.StopSignal = false

	sig := bytes.TrimSpace(raw.StopSignal)
	if len(sig) == 0 || bytes.Equal(sig, []byte("null")) {
		return nil
	}
	if sig[0] == '"' {
		var s string
		if err := json.Unmarshal(sig, &s); err != nil {
			return err
		}
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("stop_signal: %w", err)
		}
		v.StopSignal = b
		return nil
	}
	return json.Unmarshal(sig, &v.StopSignal)
}

// FinalizeRequest asks FinalOutputAgent for the answer. The reply is a
// plain string.
type FinalizeRequest struct {
	Query       string
	Attachments []Attachment
	Analysis    QueryAnalysis
	History     string
}
