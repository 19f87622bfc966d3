// Package logging builds bigjsond's structured logger and the panic-recovery
// helpers every long-lived goroutine wraps itself in.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// New returns a zerolog.Logger configured from level/format. format is
// "console" for human-readable output during local development, anything
// else (including "json") yields structured JSON suitable for shipping to a
// log aggregator.
func New(level, format string) zerolog.Logger {
	var lvl zerolog.Level
	switch level {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var output io.Writer = os.Stdout
	if format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).With().
		Timestamp().
		Caller().
		Str("service", "bigjsond").
		Logger()
}

// LogError logs err with msg and arbitrary context fields.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// RecoverPanic belongs in a defer at the top of every long-lived goroutine.
// It logs a recovered panic with a stack trace and lets the process keep
// running rather than crashing the whole server over one goroutine.
func RecoverPanic(logger zerolog.Logger, goroutineName string, fields map[string]any) {
	r := recover()
	if r == nil {
		return
	}
	event := logger.Error().
		Str("goroutine", goroutineName).
		Interface("panic_value", r).
		Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg("goroutine panic recovered")
}
