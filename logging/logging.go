// Package logging builds the gateway's zerolog logger and the detached
// contexts used by best-effort side effects.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level is a configured log level name.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logger configuration.
type Config struct {
	Level Level
	// Format is "json" (default) or "console".
	Format string
	// Output defaults to os.Stderr. Stdout carries protocol traffic in
	// stdio mode and must never be used for logs.
	Output io.Writer
}

// New creates a zerolog.Logger from cfg.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("app", "toolgateway").
		Logger()
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(l Level) zerolog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a child logger tagged with a component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// DetachWithTimeout returns a context that survives cancellation of parent
// but carries its own deadline. Values from parent remain visible.
//
//	logCtx, cancel := logging.DetachWithTimeout(ctx, 5*time.Second)
//	defer cancel()
//	_ = sink.LogActivity(logCtx, record)
func DetachWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
