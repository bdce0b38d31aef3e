package common

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that drops every record. Enabled reports false so
// callers never format the message.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active engine logger.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger shared by every engine package.
// The engine is silent by default. Passing nil restores the silent logger.
//
// Log levels used by the engine:
//   - slog.LevelDebug: binding cache transitions, buffer uploads, skipped shader files
//   - slog.LevelInfo: program compilation, registry contents, backend selection
//   - slog.LevelWarn: kernel fallback, failed custom compiles, dropped frames
//   - slog.LevelError: failed GPU submissions
//
// Parameters:
//   - l: the logger to install, or nil for silence
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current engine logger. Safe for concurrent use.
//
// Returns:
//   - *slog.Logger: the active logger
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// ParseLogLevel maps a config level name to a slog.Level. Unknown names map to Info.
//
// Parameters:
//   - name: one of "debug", "info", "warn", "error"
//
// Returns:
//   - slog.Level: the matching level
func ParseLogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
