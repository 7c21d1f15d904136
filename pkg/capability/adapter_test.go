package capability

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/harun/stepwise/pkg/bus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoExecutor(ctx context.Context, in map[string]any) (any, error) {
	text := in["text"].(string)
	times := 1
	if n, ok := in["times"].(float64); ok {
		times = int(n)
	}
	return map[string]any{"echo": strings.Repeat(text, times)}, nil
}

func newEchoAdapter(t *testing.T) *Adapter {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoDescriptor(), ExecutorFunc(echoExecutor)))
	a, err := NewAdapter(reg, "EchoTool", AdapterConfig{Logger: zerolog.Nop()})
	require.NoError(t, err)
	return a
}

type echoArgs struct {
	Text string `json:"text"`
}

func TestAdapterCoercesPayloads(t *testing.T) {
	a := newEchoAdapter(t)
	want := map[string]any{"echo": "hi"}

	payloads := map[string]any{
		"map":         map[string]any{"text": "hi"},
		"string":      `{"text":"hi"}`,
		"bytes":       []byte(`{"text":"hi"}`),
		"raw message": json.RawMessage(`{"text":"hi"}`),
		"struct":      echoArgs{Text: "hi"},
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			out, err := a.Invoke(context.Background(), payload)
			require.NoError(t, err)
			assert.Equal(t, want, out)
		})
	}
}

func TestAdapterAppliesDefaults(t *testing.T) {
	a := newEchoAdapter(t)
	out, err := a.Invoke(context.Background(), map[string]any{"text": "ab", "times": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "abab"}, out)

	// times defaults to 1 when absent; the caller's map is not modified.
	in := map[string]any{"text": "ab"}
	out, err = a.Invoke(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "ab"}, out)
	assert.NotContains(t, in, "times")
}

func TestAdapterInputValidation(t *testing.T) {
	a := newEchoAdapter(t)

	tests := map[string]any{
		"missing required": map[string]any{},
		"wrong type":       map[string]any{"text": 5},
		"unknown field":    map[string]any{"text": "x", "extra": true},
		"not an object":    `["text"]`,
		"not json":         "plain words",
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Invoke(context.Background(), payload)
			var sve *SchemaValidationError
			require.ErrorAs(t, err, &sve)
			assert.Equal(t, DirectionInput, sve.Direction)
			assert.Equal(t, "EchoTool", sve.ToolID)
		})
	}
}

func TestAdapterOutputValidation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoDescriptor(), ExecutorFunc(func(context.Context, map[string]any) (any, error) {
		return map[string]any{"wrong": 1}, nil
	})))
	a, err := NewAdapter(reg, "EchoTool", AdapterConfig{Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), map[string]any{"text": "x"})
	var sve *SchemaValidationError
	require.ErrorAs(t, err, &sve)
	assert.Equal(t, DirectionOutput, sve.Direction)
}

func TestAdapterWrapsExecutorFailure(t *testing.T) {
	cause := errors.New("upstream 503")
	reg := NewRegistry()
	calls := 0
	require.NoError(t, reg.Register(echoDescriptor(), ExecutorFunc(func(context.Context, map[string]any) (any, error) {
		calls++
		return nil, cause
	})))
	a, err := NewAdapter(reg, "EchoTool", AdapterConfig{Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), map[string]any{"text": "x"})
	var tee *ToolExecutionError
	require.ErrorAs(t, err, &tee)
	assert.Equal(t, "EchoTool", tee.ToolID)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls, "no retries")
}

func TestAdapterRecoversExecutorPanic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoDescriptor(), ExecutorFunc(func(context.Context, map[string]any) (any, error) {
		panic("nil map")
	})))
	a, err := NewAdapter(reg, "EchoTool", AdapterConfig{Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), map[string]any{"text": "x"})
	var tee *ToolExecutionError
	assert.ErrorAs(t, err, &tee)
}

func TestMountOnBus(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoDescriptor(), ExecutorFunc(echoExecutor)))

	b := bus.New(bus.Config{Logger: zerolog.Nop()})
	require.NoError(t, Mount(b, reg, AdapterConfig{Logger: zerolog.Nop()}))
	require.NoError(t, b.Start())
	defer b.Stop(context.Background(), false)

	out, err := b.Send(context.Background(), `{"text":"ping"}`, "EchoTool", "s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "ping"}, out)

	// A broadcast materializes the per-topic adapter without running it.
	assert.False(t, b.HasInstance("EchoTool", "s2"))
	require.NoError(t, b.Publish(context.Background(), map[string]any{"text": "x"}, "s2"))
	assert.True(t, b.HasInstance("EchoTool", "s2"))

	assert.ErrorIs(t, Mount(b, reg, AdapterConfig{Logger: zerolog.Nop()}), bus.ErrDuplicateRegistration)
}

func TestNewAdapterUnknownTool(t *testing.T) {
	_, err := NewAdapter(NewRegistry(), "Missing", AdapterConfig{})
	assert.ErrorIs(t, err, ErrUnknownCapability)
}
