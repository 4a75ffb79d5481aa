package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jwebster45206/companion-engine/internal/engine"
)

// StoryHandler serves storyline listing, start and advancement.
type StoryHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// AdvanceRequest is the body of a story turn.
type AdvanceRequest struct {
	Action string `json:"action"`
}

// NewStoryHandler creates a new story handler
func NewStoryHandler(e *engine.Engine, logger *slog.Logger) *StoryHandler {
	return &StoryHandler{engine: e, logger: logger}
}

// List returns every storyline with the user's status.
// GET /v1/users/{user}/storylines
func (h *StoryHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ListStorylines(r.PathValue("user"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"storylines": list})
}

// Start begins or resumes a storyline.
// POST /v1/users/{user}/storylines/{id}/start
func (h *StoryHandler) Start(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.StartStoryline(r.Context(), r.PathValue("user"), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// Advance runs one story turn.
// POST /v1/users/{user}/story/advance
func (h *StoryHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req AdvanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, h.logger, "Invalid request body. Expected JSON with 'action' field.")
		return
	}
	if req.Action == "" {
		badRequest(w, r, h.logger, "Action cannot be empty.")
		return
	}

	res, err := h.engine.AdvanceStory(r.Context(), r.PathValue("user"), req.Action)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// Transcript exports one storyline with the user's progress.
// GET /v1/users/{user}/storylines/{id}/transcript
func (h *StoryHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	tr, err := h.engine.ExportTranscript(r.PathValue("user"), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, tr)
}

// Character returns the character summary for the user.
// GET /v1/users/{user}/character
func (h *StoryHandler) Character(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.GetCharacterInfo(r.PathValue("user"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, info)
}
