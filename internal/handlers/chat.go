package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jwebster45206/companion-engine/internal/engine"
	"github.com/jwebster45206/companion-engine/pkg/chat"
)

// ChatHandler handles free-form conversation and history management.
type ChatHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(e *engine.Engine, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{engine: e, logger: logger}
}

// Chat generates a reply in the character's voice.
// POST /v1/users/{user}/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")

	var request chat.ChatRequest
	if err := decodeJSON(w, r, &request); err != nil {
		badRequest(w, r, h.logger, "Invalid request body. Expected JSON with 'message' field.")
		return
	}
	if err := request.Validate(); err != nil {
		badRequest(w, r, h.logger, "Message cannot be empty.")
		return
	}

	h.logger.Debug("Chat request", "user_id", user, "remember_history", request.ShouldRemember())

	reply, err := h.engine.Chat(r.Context(), user, request.Message, request.ShouldRemember())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, chat.ChatResponse{Message: reply})
}

// ClearHistory empties the user's conversation.
// DELETE /v1/users/{user}/history
func (h *ChatHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearHistory(r.PathValue("user")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportHistory returns the full conversation document.
// GET /v1/users/{user}/history
func (h *ChatHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	export, err := h.engine.ExportHistory(r.PathValue("user"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, export)
}

// ImportHistory replaces the conversation with an exported document.
// PUT /v1/users/{user}/history
func (h *ChatHandler) ImportHistory(w http.ResponseWriter, r *http.Request) {
	var doc chat.HistoryExport
	if err := decodeJSON(w, r, &doc); err != nil {
		badRequest(w, r, h.logger, "Invalid request body. Expected an exported history document.")
		return
	}
	if err := h.engine.ImportHistory(r.PathValue("user"), &doc); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
