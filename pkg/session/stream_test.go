package session

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSession(t *testing.T) (*Registry, *Session) {
	t.Helper()
	reg := NewRegistry(Config{Logger: zerolog.Nop()})
	t.Cleanup(reg.Close)
	id, err := reg.Open(context.Background(), "")
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)
	return reg, s
}

func TestEmitStampsEvents(t *testing.T) {
	_, s := openSession(t)

	first, err := s.Emit(Event{Type: EventToolRequest})
	require.NoError(t, err)
	second, err := s.Emit(Event{Type: EventToolResponse})
	require.NoError(t, err)

	assert.Equal(t, s.ID(), first.SessionID)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, 2, s.Pending())
}

func TestStreamYieldsInOrderAndEndsAfterFinal(t *testing.T) {
	reg, s := openSession(t)

	go func() {
		for i := 1; i <= 3; i++ {
			_, _ = s.Emit(Event{Type: EventToolRequest, StepNo: i})
			time.Sleep(time.Millisecond)
		}
		_, _ = s.Emit(Event{Type: EventFinalOutput, StepNo: 3, Final: true})
		_, _ = s.Emit(Event{Type: EventToolRequest, StepNo: 1, Message: "next request"})
	}()

	st, err := reg.Stream(s.ID())
	require.NoError(t, err)

	var got []Event
	for ev, err := range st.All(context.Background()) {
		require.NoError(t, err)
		got = append(got, ev)
	}

	require.Len(t, got, 4)
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
	assert.True(t, got[3].Final)
	assert.True(t, st.Finished())

	_, err = st.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF, "streams are not restartable")

	// The follow-up request is read by a fresh stream.
	next, err := reg.Stream(s.ID())
	require.NoError(t, err)
	ev, err := next.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "next request", ev.Message)
}

func TestStreamSingleConsumer(t *testing.T) {
	reg, s := openSession(t)

	st, err := reg.Stream(s.ID())
	require.NoError(t, err)
	_, err = reg.Stream(s.ID())
	assert.ErrorIs(t, err, ErrStreamInUse)

	st.Release()
	_, err = st.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamReleased)

	_, err = reg.Stream(s.ID())
	assert.NoError(t, err)
}

func TestReleaseKeepsUnreadEvents(t *testing.T) {
	reg, s := openSession(t)
	_, err := s.Emit(Event{Type: EventToolRequest, Message: "a"})
	require.NoError(t, err)
	_, err = s.Emit(Event{Type: EventToolResponse, Message: "b"})
	require.NoError(t, err)

	st, err := reg.Stream(s.ID())
	require.NoError(t, err)
	ev, err := st.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Message)
	st.Release()

	again, err := reg.Stream(s.ID())
	require.NoError(t, err)
	ev, err = again.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", ev.Message)
}

func TestNextHonoursContext(t *testing.T) {
	reg, s := openSession(t)
	st, err := reg.Stream(s.ID())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = st.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseWakesBlockedStream(t *testing.T) {
	reg, s := openSession(t)
	st, err := reg.Stream(s.ID())
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := st.Next(context.Background())
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)
	reg.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrRegistryClosed)
	case <-time.After(time.Second):
		t.Fatal("stream not woken by Close")
	}

	_, err = s.Emit(Event{})
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestSessionsAreIsolated(t *testing.T) {
	reg := NewRegistry(Config{Logger: zerolog.Nop()})
	defer reg.Close()

	a, err := reg.Open(context.Background(), "a")
	require.NoError(t, err)
	b, err := reg.Open(context.Background(), "b")
	require.NoError(t, err)

	sa, _ := reg.Get(a)
	sb, _ := reg.Get(b)
	_, _ = sa.Emit(Event{Type: EventFinalOutput, Message: "for a", Final: true})
	_, _ = sb.Emit(Event{Type: EventFinalOutput, Message: "for b", Final: true})

	for id, want := range map[string]string{a: "for a", b: "for b"} {
		st, err := reg.Stream(id)
		require.NoError(t, err)
		ev, err := st.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, ev.Message)
		assert.Equal(t, id, ev.SessionID)
		assert.Equal(t, uint64(1), ev.Seq)
	}
}

func TestEventJSONShape(t *testing.T) {
	tool := "EchoTool"
	raw, err := json.Marshal(Event{Type: EventToolRequest, SessionID: "s", ToolUsed: &tool, StepNo: 1, Seq: 1})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	for _, key := range []string{"type", "session_id", "message", "tool_used", "command", "final", "conclusion", "step_no", "seq", "timestamp"} {
		assert.Contains(t, m, key)
	}
	assert.Nil(t, m["command"])
	assert.Equal(t, "EchoTool", m["tool_used"])
}
