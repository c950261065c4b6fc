// Package logging provides the process-wide structured logger. It mirrors
// the teacher's internal/observability package (zerolog + JSON output +
// field redaction) but is scoped to the fields this service actually emits.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// sensitiveKeys mirrors internal/observability/redact.go: any structured
// field whose key matches one of these (case-insensitively, substring) is
// replaced with a fixed placeholder before it reaches an output sink.
var sensitiveKeys = []string{
	"password", "token", "secret", "key", "credential", "authorization", "apikey", "api_key",
}

func isSensitiveKey(k string) bool {
	low := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}

// Fields is a structured logging payload. Use it instead of Printf-style
// logging so the redaction pass has something to walk.
type Fields map[string]any

// Redact returns a copy of f with sensitive values replaced.
func (f Fields) Redact() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

// Logger is the narrow interface collaborators depend on, matching the
// teacher's internal/rag/service.Logger shape so components built against
// that interface port over unchanged.
type Logger interface {
	Info(msg string, fields Fields)
	Error(msg string, fields Fields)
	Debug(msg string, fields Fields)
	Warn(msg string, fields Fields)
}

type zlog struct {
	l zerolog.Logger
}

// New builds a zerolog-backed Logger writing JSON to stdout. levelStr is
// parsed with zerolog.ParseLevel; an unrecognized value falls back to info.
func New(levelStr string) Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelStr)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	l = l.Level(lvl)
	return &zlog{l: l}
}

func (z *zlog) event(e *zerolog.Event, msg string, fields Fields) {
	for k, v := range fields.Redact() {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

func (z *zlog) Info(msg string, fields Fields)  { z.event(z.l.Info(), msg, fields) }
func (z *zlog) Error(msg string, fields Fields) { z.event(z.l.Error(), msg, fields) }
func (z *zlog) Debug(msg string, fields Fields) { z.event(z.l.Debug(), msg, fields) }
func (z *zlog) Warn(msg string, fields Fields)  { z.event(z.l.Warn(), msg, fields) }

// Noop is a Logger that discards everything; useful in tests.
type Noop struct{}

func (Noop) Info(string, Fields)  {}
func (Noop) Error(string, Fields) {}
func (Noop) Debug(string, Fields) {}
func (Noop) Warn(string, Fields)  {}
