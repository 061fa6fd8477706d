// Package logger builds the slog loggers used by the classroom-kit commands.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds the configuration of the logger.
type Config struct {
	Level   slog.Level
	Format  string    // "text" (colored, via tint) or "json"
	Output  io.Writer // Defaults to os.Stderr
	NoColor bool
}

// New creates a logger for config.
func New(config Config) *slog.Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	if config.Format == "json" {
		opts := &slog.HandlerOptions{
			Level: config.Level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.String(a.Key, a.Value.Time().Format(time.RFC3339))
				}
				return a
			},
		}
		return slog.New(slog.NewJSONHandler(out, opts))
	}

	return slog.New(tint.NewHandler(out, &tint.Options{
		Level:      config.Level,
		TimeFormat: time.Kitchen,
		NoColor:    config.NoColor,
	}))
}

// ParseLevel maps a level name to a slog level. Unknown names give Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// FromConfig creates a logger configuration from level and format names.
func FromConfig(level, format string) Config {
	config := Config{
		Level:  ParseLevel(level),
		Format: "text",
	}
	if format != "" {
		config.Format = strings.ToLower(format)
	}
	return config
}
