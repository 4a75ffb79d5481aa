package prompts

import (
	"fmt"

	"github.com/jwebster45206/companion-engine/pkg/chat"
	"github.com/jwebster45206/companion-engine/pkg/profile"
	"github.com/jwebster45206/companion-engine/pkg/state"
)

// Builder constructs chat messages for LLM interaction using a fluent interface.
// It reads state but never mutates it.
type Builder struct {
	profile      *profile.Profile
	mode         Mode
	storyline    *profile.Storyline
	progress     *state.StoryProgress
	history      []chat.ChatMessage
	userMessage  string
	historyLimit int
	messages     []chat.ChatMessage
}

// New creates a new prompt builder in chat mode with default settings.
func New() *Builder {
	return &Builder{
		mode:         ModeChat,
		historyLimit: chat.DefaultHistoryWindow,
		messages:     make([]chat.ChatMessage, 0),
	}
}

// WithProfile sets the character persona.
func (b *Builder) WithProfile(p *profile.Profile) *Builder {
	b.profile = p
	return b
}

// WithStory switches to story mode for storyline s at progress.
func (b *Builder) WithStory(s *profile.Storyline, progress *state.StoryProgress) *Builder {
	b.mode = ModeStory
	b.storyline = s
	b.progress = progress
	return b
}

// WithHistory sets the conversational history. Only the most recent
// historyLimit entries are sent.
func (b *Builder) WithHistory(msgs []chat.ChatMessage) *Builder {
	b.history = msgs
	return b
}

// WithUserMessage sets the user's message.
func (b *Builder) WithUserMessage(message string) *Builder {
	b.userMessage = message
	return b
}

// WithHistoryLimit sets the chat history window size.
func (b *Builder) WithHistoryLimit(limit int) *Builder {
	b.historyLimit = limit
	return b
}

// Build constructs and returns the final message array for LLM consumption.
func (b *Builder) Build() ([]chat.ChatMessage, error) {
	if b.profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if b.userMessage == "" {
		return nil, fmt.Errorf("user message is required")
	}

	b.messages = make([]chat.ChatMessage, 0, len(b.history)+2)

	// 1. System context
	b.messages = append(b.messages, chat.ChatMessage{
		Role:    chat.ChatRoleSystem,
		Content: BuildContext(b.mode, b.profile, b.storyline, b.progress),
	})

	// 2. Windowed chat history
	b.addHistory()

	// 3. User message
	b.messages = append(b.messages, chat.ChatMessage{
		Role:    chat.ChatRoleUser,
		Content: b.userMessage,
	})

	return b.messages, nil
}

func (b *Builder) addHistory() {
	if len(b.history) == 0 || b.historyLimit <= 0 {
		return
	}
	if len(b.history) <= b.historyLimit {
		b.messages = append(b.messages, b.history...)
		return
	}
	b.messages = append(b.messages, b.history[len(b.history)-b.historyLimit:]...)
}
