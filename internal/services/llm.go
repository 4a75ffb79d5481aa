package services

import (
	"context"

	"github.com/jwebster45206/companion-engine/pkg/chat"
)

// LLMService defines the interface for interacting with the LLM API
type LLMService interface {
	// InitModel makes sure the model is available before the first request
	InitModel(ctx context.Context, modelName string) error

	// Chat generates a single, non-streamed reply for messages
	Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error)

	// Provider names the backend for logs and metrics
	Provider() string
}
