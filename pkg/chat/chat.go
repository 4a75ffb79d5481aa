package chat

import (
	"fmt"
	"time"
)

// ChatRequest is a chat or story message sent by the user to the
// companion-engine api.
type ChatRequest struct {
	Message         string `json:"message"`
	RememberHistory *bool  `json:"remember_history,omitempty"` // defaults to true
}

// ChatResponse is returned by the chat endpoint.
type ChatResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	ChatRoleUser   = "user"      // User
	ChatRoleAgent  = "assistant" // Character
	ChatRoleSystem = "system"    // Persona and story context
)

// ChatMessage represents a single role-tagged turn in the conversation.
// The shape matches what the LLM providers accept.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

func (cr *ChatRequest) Validate() error {
	if cr.Message == "" {
		return fmt.Errorf("message cannot be empty")
	}
	return nil
}

// ShouldRemember reports whether the exchange should be added to history.
func (cr *ChatRequest) ShouldRemember() bool {
	return cr.RememberHistory == nil || *cr.RememberHistory
}

// HistoryExport is the standalone document written when a user's
// conversation is exported.
type HistoryExport struct {
	Character string        `json:"character"`
	Timestamp time.Time     `json:"timestamp"`
	Messages  []ChatMessage `json:"messages"`
}
