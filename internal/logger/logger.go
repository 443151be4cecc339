// Package logger initializes the process-wide slog logger from config.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// L is the shared logger, set by Init. Components should still receive a
// *slog.Logger via their constructors; L exists for wiring code.
var L = slog.Default()

// Init builds the root logger from a level and format ("text" or "json")
// and installs it as the slog default.
func Init(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	L = slog.New(handler)
	slog.SetDefault(L)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
