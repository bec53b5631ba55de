// Package obs holds the process-wide structured logger.
package obs

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is the service logger. It is usable before Init is called.
var Logger = slog.Default()

// Init installs a JSON logger on stdout at the given level
// ("debug", "info", "warn", "error"; anything else means info).
func Init(level string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(level)})
	Logger = slog.New(h)
	slog.SetDefault(Logger)
	return Logger
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
