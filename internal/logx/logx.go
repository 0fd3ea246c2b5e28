// Package logx provides the structured logger used across the server.
package logx

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	once sync.Once
	base *slog.Logger
)

// Base returns the process-wide base logger, building it lazily from
// QUERN_LOG_LEVEL / QUERN_LOG_FORMAT environment variables on first use.
func Base() *slog.Logger {
	once.Do(func() {
		base = slog.New(newHandler(os.Stderr))
	})
	return base
}

func newHandler(w io.Writer) slog.Handler {
	level := slog.LevelInfo
	switch os.Getenv("QUERN_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if os.Getenv("QUERN_LOG_FORMAT") == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// For returns a logger scoped to a named component, e.g. For("lifecycle").
func For(component string) *slog.Logger {
	return Base().With(slog.String("component", component))
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SetForTest overrides the base logger; intended for test setup only.
func SetForTest(l *slog.Logger) {
	once.Do(func() {})
	base = l
}
