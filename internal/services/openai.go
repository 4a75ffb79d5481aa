package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jwebster45206/companion-engine/pkg/chat"
)

const (
	veniceBaseURL = "https://api.venice.ai/api/v1"

	DefaultMaxTokens = 512
)

// OpenAIService implements LLMService for any OpenAI-compatible chat
// completions endpoint (OpenAI itself, Venice AI).
type OpenAIService struct {
	client      *openai.Client
	provider    string
	modelName   string
	temperature float32
	logger      *slog.Logger
}

// NewOpenAIService creates a client for OpenAI. baseURL may be empty.
func NewOpenAIService(apiKey, baseURL, modelName string, temperature float32, logger *slog.Logger) *OpenAIService {
	return newOpenAICompatible("openai", apiKey, baseURL, modelName, temperature, logger)
}

// NewVeniceService creates a client for Venice AI's OpenAI-compatible API.
func NewVeniceService(apiKey, baseURL, modelName string, temperature float32, logger *slog.Logger) *OpenAIService {
	if baseURL == "" {
		baseURL = veniceBaseURL
	}
	return newOpenAICompatible("venice", apiKey, baseURL, modelName, temperature, logger)
}

func newOpenAICompatible(provider, apiKey, baseURL, modelName string, temperature float32, logger *slog.Logger) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &OpenAIService{
		client:      openai.NewClientWithConfig(cfg),
		provider:    provider,
		modelName:   modelName,
		temperature: temperature,
		logger:      logger,
	}
}

func (s *OpenAIService) Provider() string {
	return s.provider
}

// InitModel checks that the model is listed by the provider. A listing
// failure is logged and tolerated since some compatible servers omit it.
func (s *OpenAIService) InitModel(ctx context.Context, modelName string) error {
	models, err := s.client.ListModels(ctx)
	if err != nil {
		s.logger.Warn("Could not list models, continuing", "provider", s.provider, "error", err)
		return nil
	}
	for _, m := range models.Models {
		if m.ID == modelName {
			s.logger.Info("Model available", "provider", s.provider, "model", modelName)
			return nil
		}
	}
	return fmt.Errorf("model %q not offered by %s", modelName, s.provider)
}

// Chat generates a single chat completion.
func (s *OpenAIService) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.modelName,
		Messages:    msgs,
		Temperature: s.temperature,
		MaxTokens:   DefaultMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s chat completion failed: %w", s.provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", s.provider)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%s returned an empty response", s.provider)
	}

	s.logger.Debug("Chat completion received",
		"provider", s.provider,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return &chat.ChatResponse{Message: content}, nil
}
