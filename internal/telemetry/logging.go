package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a JSON logger on stdout at the named level (debug, info, warn, error).
func NewLogger(level string, attrs ...any) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})).With(attrs...)
}
