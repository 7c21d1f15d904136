package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls where log lines go and how they look.
type Config struct {
	Level     string // debug, info, warn, error
	File      string // optional log file, rotated by size
	Console   bool
	Pretty    bool // human readable console output instead of JSON
	Redaction bool // mask API keys and bearer tokens
	MaxSizeMB int  // rotate the file past this size, 0 disables rotation
	MaxBackup int  // rotated files kept on disk, 0 keeps all
}

// DefaultConfig returns console-only info logging with redaction on.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSizeMB: 50,
		MaxBackup: 5,
	}
}

// Logger owns the writers behind a zerolog.Logger. Components never reach for
// a global logger; they receive Zerolog() through their configs.
type Logger struct {
	zl      zerolog.Logger
	closers []io.Closer
}

// New builds a logger from cfg. Console output goes to stderr so that
// streamed events on stdout stay machine readable.
func New(cfg Config) (*Logger, error) {
	return NewWithConsole(cfg, os.Stderr)
}

// NewWithConsole is New with an explicit console destination.
func NewWithConsole(cfg Config, console io.Writer) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var (
		writers []io.Writer
		closers []io.Closer
	)

	if cfg.Console {
		var w io.Writer = console
		if cfg.Pretty {
			w = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
		}
		writers = append(writers, w)
	}

	if cfg.File != "" {
		rw, err := NewRotatingWriter(cfg.File, cfg.MaxSizeMB, cfg.MaxBackup)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, rw)
		closers = append(closers, rw)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	if cfg.Redaction {
		out = NewRedactor().Wrap(out)
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl, closers: closers}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Zerolog returns the configured logger for injection into components.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zl.With().Str("component", name).Logger()
}

// Close flushes and closes file outputs.
func (l *Logger) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.closers = nil
	return first
}
