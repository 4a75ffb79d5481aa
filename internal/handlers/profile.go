package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/companion-engine/internal/engine"
)

// ProfileHandler serves the character profile.
type ProfileHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(e *engine.Engine, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{engine: e, logger: logger}
}

// Setup replaces the profile with a complete JSON or YAML document.
// PUT /v1/profile
func (h *ProfileHandler) Setup(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, r, h.logger, "Failed to read request body.")
		return
	}

	p, err := h.engine.SetupProfile(r.Context(), data)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}

// Update merges top-level fields into the current profile.
// PATCH /v1/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var updates map[string]json.RawMessage
	if err := decodeJSON(w, r, &updates); err != nil {
		badRequest(w, r, h.logger, "Invalid request body. Expected a JSON object of profile fields.")
		return
	}

	p, err := h.engine.UpdateProfile(r.Context(), updates)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}

// Get returns the current profile.
// GET /v1/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Profile()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, p)
}
