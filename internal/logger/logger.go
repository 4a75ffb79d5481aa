package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/jwebster45206/companion-engine/internal/config"
)

const serviceName = "companion-engine"

// Setup builds the process logger from cfg, writes to stdout and installs it
// as the slog default.
func Setup(cfg *config.Config) *slog.Logger {
	logger := New(os.Stdout, cfg)
	slog.SetDefault(logger)
	return logger
}

// New returns a logger writing to w. Production uses JSON lines; every other
// environment gets the text handler.
func New(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With("service", serviceName, "environment", cfg.Environment)
}

// WithRequestID adds request ID to logger context
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("request_id", requestID)
}

// WithUser scopes a logger to one user's requests. An empty id returns the
// logger unchanged.
func WithUser(logger *slog.Logger, userID string) *slog.Logger {
	if userID == "" {
		return logger
	}
	return logger.With("user_id", userID)
}
