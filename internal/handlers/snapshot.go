package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jwebster45206/companion-engine/internal/engine"
)

// SnapshotHandler saves, loads and resets per-user state.
type SnapshotHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(e *engine.Engine, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{engine: e, logger: logger}
}

// Save persists the user's snapshot.
// POST /v1/users/{user}/snapshot
func (h *SnapshotHandler) Save(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.SaveSnapshot(r.Context(), r.PathValue("user")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Load replaces in-memory progress with the persisted snapshot.
// POST /v1/users/{user}/snapshot/load
func (h *SnapshotHandler) Load(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.LoadSnapshot(r.Context(), r.PathValue("user"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"dropped_storylines": report.DroppedStorylines,
		"clamped_storylines": report.ClampedStorylines,
		"cleared_current":    report.ClearedCurrent,
	})
}

// Reset drops the user's state and snapshot.
// DELETE /v1/users/{user}
func (h *SnapshotHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResetUser(r.Context(), r.PathValue("user")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
