package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jwebster45206/companion-engine/internal/engine"
	"github.com/jwebster45206/companion-engine/pkg/activity"
)

// ActivityHandler accepts workouts and external unlock events.
type ActivityHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// UnlockResponse reports the outcome of an unlock event.
type UnlockResponse struct {
	StorylineID string `json:"storyline_id"`
	Unlocked    bool   `json:"unlocked"`
	Changed     bool   `json:"changed"`

	PersistenceFailed bool `json:"persistence_failed,omitempty"`
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(e *engine.Engine, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{engine: e, logger: logger}
}

// RecordWorkout applies a reported workout.
// POST /v1/users/{user}/workouts
func (h *ActivityHandler) RecordWorkout(w http.ResponseWriter, r *http.Request) {
	var workout activity.Workout
	if err := decodeJSON(w, r, &workout); err != nil {
		badRequest(w, r, h.logger, "Invalid request body. Expected JSON with 'type', 'distance' and 'duration'.")
		return
	}

	res, err := h.engine.RecordWorkout(r.Context(), r.PathValue("user"), workout)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// Content lists unlocked and locked requirement-gated storylines.
// GET /v1/users/{user}/content
func (h *ActivityHandler) Content(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.AvailableContent(r.PathValue("user"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, summary)
}

// Unlock applies an external unlock event.
// POST /v1/users/{user}/unlocks/{id}
func (h *ActivityHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	changed, err := h.engine.MarkUnlocked(r.Context(), r.PathValue("user"), id)
	if err != nil && !changed {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, UnlockResponse{
		StorylineID: id,
		Unlocked:    true,
		Changed:     changed,

		PersistenceFailed: err != nil,
	})
}
