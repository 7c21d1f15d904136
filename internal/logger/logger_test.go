package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithConsole(Config{Level: "debug", Console: true}, &buf)
	require.NoError(t, err)
	defer l.Close()

	bus := l.Component("bus")
	bus.Debug().Str("agent_type", "Orchestrator").Msg("registered")

	out := buf.String()
	assert.Contains(t, out, `"component":"bus"`)
	assert.Contains(t, out, `"agent_type":"Orchestrator"`)
	assert.Contains(t, out, `"message":"registered"`)
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := NewWithConsole(Config{Level: "verbose", Console: true}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, l.Zerolog().GetLevel())
}

func TestNewRedactsConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithConsole(Config{Level: "info", Console: true, Redaction: true}, &buf)
	require.NoError(t, err)

	zl := l.Zerolog()
	zl.Info().Msg("calling provider with sk-ant-REDACTED")

	assert.NotContains(t, buf.String(), "abcdefghijklmnop")
	assert.Contains(t, buf.String(), redacted)
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "stepwise.log")
	l, err := New(Config{Level: "info", File: path})
	require.NoError(t, err)

	zl := l.Zerolog()
	zl.Info().Str("session_id", "s1").Msg("session opened")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session opened")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Empty(t, cfg.File)
}

func TestNop(t *testing.T) {
	l := Nop()
	zl := l.Zerolog()
	zl.Error().Msg("dropped")
	assert.NoError(t, l.Close())
}
