package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/companion-engine/internal/engine"
	"github.com/jwebster45206/companion-engine/internal/logger"
	"github.com/jwebster45206/companion-engine/internal/middleware"
	"github.com/jwebster45206/companion-engine/pkg/profile"
	"github.com/jwebster45206/companion-engine/pkg/state"
	"github.com/jwebster45206/companion-engine/pkg/storage"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Fields    []string `json:"fields,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
}

// maxBodyBytes bounds request bodies; profiles are the largest documents.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var (
		cfgErr     *profile.ConfigError
		genErr     *engine.GenerationError
		corruptErr *state.CorruptStateError
	)
	switch {
	case errors.As(err, &cfgErr), errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownCharacter),
		errors.Is(err, engine.ErrUnknownStoryline),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrLockedStoryline), errors.Is(err, engine.ErrNoActiveStoryline):
		return http.StatusConflict
	case errors.As(err, &genErr):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.As(err, &corruptErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes the mapped status with an ErrorResponse.
func writeError(w http.ResponseWriter, r *http.Request, fallback *slog.Logger, err error) {
	log := requestLogger(r, fallback)
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var cfgErr *profile.ConfigError
	if errors.As(err, &cfgErr) {
		resp.Fields = append(append([]string{}, cfgErr.Missing...), cfgErr.Invalid...)
	}
	var genErr *engine.GenerationError
	if errors.As(err, &genErr) {
		resp.Retryable = genErr.Retryable()
		resp.Error = "The character could not respond. Please try again."
	}

	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		log.Warn("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, log, status, resp)
}

func badRequest(w http.ResponseWriter, r *http.Request, fallback *slog.Logger, msg string) {
	log := requestLogger(r, fallback)
	log.Warn("Invalid request", "method", r.Method, "path", r.URL.Path, "reason", msg)
	writeJSON(w, log, http.StatusBadRequest, ErrorResponse{Error: msg})
}

// requestLogger carries the request id and the path's user, when present.
func requestLogger(r *http.Request, fallback *slog.Logger) *slog.Logger {
	return logger.WithUser(middleware.LoggerFrom(r.Context(), fallback), r.PathValue("user"))
}
