// Package logging builds the process logger and keeps its level adjustable
// at runtime.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Log output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ParseLevel converts a level name to a slog.Level. The second result is
// false for unknown names, in which case info is returned.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// New creates a logger writing to out in the given format. The logger
// follows level, so changing it later affects every derived logger.
func New(out io.Writer, format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if format == FormatText {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}

// ApplyLevel sets level from name when name is a known level and reports
// whether it did. Empty names are ignored.
func ApplyLevel(level *slog.LevelVar, name string) bool {
	if name == "" {
		return false
	}

	parsed, ok := ParseLevel(name)
	if !ok {
		return false
	}

	level.Set(parsed)

	return true
}
