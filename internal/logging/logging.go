// Package logging configures the process-wide structured logger. Output
// always goes to stderr, grounded on the pack's slog-based radio service,
// so that pick-next's stdout contract (exactly one path, or an empty line)
// is never polluted by diagnostics.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text-handler slog.Logger at the given level as the
// package default and returns it. level is the LS_LOG_LEVEL string
// ("debug", "info", "warn", "error"); anything unrecognized falls back to
// info.
func Setup(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
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
