package orchestrator

import (
	"testing"

	"github.com/harun/stepwise/pkg/capability"
	"github.com/harun/stepwise/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct{}

func (fakeSessions) Get(id string) (*session.Session, error) {
	return nil, session.ErrUnknownSession
}

type fakeCatalog struct{}

func (fakeCatalog) DescribeAll() []capability.Descriptor { return nil }

func TestParseArgument(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		canonical string
		wantErr   bool
	}{
		{"object", `{"text": "hi", "n": 2}`, `{"text":"hi","n":2}`, false},
		{"fenced", "```json\n{\"text\": \"hi\"}\n```", `{"text":"hi"}`, false},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`, false},
		{"whitespace", "  {\"a\":1}\n\n", `{"a":1}`, false},
		{"two objects", `{"a":1}{"b":2}`, "", true},
		{"two objects on lines", "{\"a\":1}\n{\"b\":2}", "", true},
		{"array", `[1,2]`, "", true},
		{"string", `"text"`, "", true},
		{"empty", "   ", "", true},
		{"garbage", "not json", "", true},
		{"trailing garbage", `{"a":1} trailing`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, canonical, err := ParseArgument(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedArgument)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, obj)
			assert.Equal(t, tt.canonical, canonical)
		})
	}
}

func TestHistory(t *testing.T) {
	var h History
	assert.Equal(t, "", h.String())

	h.Append(StepRecord{StepNo: 1, ToolID: "EchoTool", SubGoal: "say", Argument: `{"text":"x"}`, Result: "x"})
	h.Append(StepRecord{StepNo: 2, ToolID: "FailTool", SubGoal: "break", Argument: `{}`, Error: "boom"})
	h.Append(StepRecord{StepNo: 3, ToolID: "MapTool", Result: map[string]any{"k": 1}})

	assert.Equal(t, 3, h.Len())
	rec, ok := h.Step(2)
	require.True(t, ok)
	assert.True(t, rec.Failed())
	_, ok = h.Step(9)
	assert.False(t, ok)

	out := h.String()
	assert.Contains(t, out, "Step 1:\n  tool_name: EchoTool")
	assert.Contains(t, out, "result: x")
	assert.Contains(t, out, "result: Error executing tool: boom")
	assert.Contains(t, out, `result: {"k":1}`)

	steps := h.Steps()
	steps[0].ToolID = "mutated"
	first, _ := h.Step(1)
	assert.Equal(t, "EchoTool", first.ToolID)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "ANALYZING", PhaseAnalyzing.String())
	assert.Equal(t, "DONE", PhaseDone.String())
	assert.Equal(t, "Phase(42)", Phase(42).String())
}
