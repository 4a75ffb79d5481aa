package engine

import (
	"context"
	"fmt"

	"github.com/jwebster45206/companion-engine/pkg/chat"
	"github.com/jwebster45206/companion-engine/pkg/prompts"
	"github.com/jwebster45206/companion-engine/pkg/state"
)

// CharacterInfo summarizes the character and one user's relationship to it.
type CharacterInfo struct {
	Name                string `json:"name"`
	Personality         string `json:"personality"`
	ChatCount           int    `json:"chat_count"`
	CurrentStoryline    string `json:"current_storyline,omitempty"`
	AvailableStorylines int    `json:"available_storylines"`
}

// Chat generates a free-form reply in the character's voice. When remember is
// true the recent history is sent and the exchange is appended on success.
// A failed generation leaves history untouched.
func (e *Engine) Chat(ctx context.Context, userID, text string, remember bool) (string, error) {
	if err := validateUser(userID); err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("%w: message cannot be empty", ErrInvalidInput)
	}
	p, err := e.Profile()
	if err != nil {
		return "", err
	}

	entry := e.store.Entry(userID)
	release := entry.LockTurn()
	defer release()

	var history []chat.ChatMessage
	if remember {
		entry.View(func(u *state.UserState) {
			history = u.History.Window(e.historyWindow)
		})
	}

	msgs, err := prompts.New().
		WithProfile(p).
		WithHistory(history).
		WithHistoryLimit(e.historyWindow).
		WithUserMessage(text).
		Build()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	reply, err := e.generate(ctx, prompts.ModeChat, msgs)
	if err != nil {
		e.logger.Warn("Chat generation failed", "user_id", userID, "error", err)
		return "", err
	}

	if remember {
		_ = entry.Update(func(u *state.UserState) error {
			u.History.Append(
				chat.ChatMessage{Role: chat.ChatRoleUser, Content: text},
				chat.ChatMessage{Role: chat.ChatRoleAgent, Content: reply},
			)
			u.UpdatedAt = e.now()
			return nil
		})
	}
	return reply, nil
}

// ClearHistory empties the user's conversation. Story progress is unaffected.
func (e *Engine) ClearHistory(userID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	entry, ok := e.store.Lookup(userID)
	if !ok {
		return nil
	}
	return entry.Update(func(u *state.UserState) error {
		u.History.Clear()
		return nil
	})
}

// ExportHistory returns the user's full conversation as a standalone document.
func (e *Engine) ExportHistory(userID string) (*chat.HistoryExport, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	p, err := e.Profile()
	if err != nil {
		return nil, err
	}

	export := &chat.HistoryExport{
		Character: p.Name,
		Timestamp: e.now(),
		Messages:  make([]chat.ChatMessage, 0),
	}
	if entry, ok := e.store.Lookup(userID); ok {
		entry.View(func(u *state.UserState) {
			export.Messages = u.History.All()
		})
	}
	return export, nil
}

// ImportHistory replaces the user's conversation with doc's messages.
func (e *Engine) ImportHistory(userID string, doc *chat.HistoryExport) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: history document is required", ErrInvalidInput)
	}
	for i, m := range doc.Messages {
		switch m.Role {
		case chat.ChatRoleUser, chat.ChatRoleAgent, chat.ChatRoleSystem:
		default:
			return fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidInput, i, m.Role)
		}
	}

	return e.store.Entry(userID).Update(func(u *state.UserState) error {
		u.History.Replace(doc.Messages)
		u.UpdatedAt = e.now()
		return nil
	})
}

// GetCharacterInfo returns the character summary for userID.
func (e *Engine) GetCharacterInfo(userID string) (*CharacterInfo, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	p, err := e.Profile()
	if err != nil {
		return nil, err
	}

	info := &CharacterInfo{
		Name:                p.Name,
		Personality:         p.Personality,
		AvailableStorylines: len(p.Storylines),
	}
	if entry, ok := e.store.Lookup(userID); ok {
		entry.View(func(u *state.UserState) {
			info.ChatCount = u.History.Exchanges()
			if s, ok := p.Storyline(u.CurrentStorylineID); ok {
				info.CurrentStoryline = s.Title
			}
		})
	}
	return info, nil
}
