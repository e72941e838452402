// Package logging provides structured logging utilities using the standard library's log/slog package.
// It offers helper functions for creating loggers with consistent configuration and context propagation.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"school-notify/internal/handler/http/requestid"
	"school-notify/pkg/config"
)

// NewLogger creates a JSON logger on stdout.
//
//	LOG_LEVEL   debug | info | warn | error (default info)
//	LOG_FORMAT  json | text (default json)
func NewLogger() *slog.Logger {
	return newLogger(os.Stdout, config.GetEnvString("LOG_LEVEL", "info"), config.GetEnvString("LOG_FORMAT", "json"))
}

// NewTextLogger creates a human-readable logger for local development.
func NewTextLogger() *slog.Logger {
	return newLogger(os.Stdout, config.GetEnvString("LOG_LEVEL", "info"), "text")
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= slog.LevelDebug,
	}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
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

// WithRequestID returns a new logger that includes the request ID from the context.
func WithRequestID(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	reqID := requestid.FromContext(ctx)
	if reqID == "" {
		return logger
	}
	return logger.With("request_id", reqID)
}
