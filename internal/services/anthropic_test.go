package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/companion-engine/pkg/chat"
)

func TestSplitChatMessages(t *testing.T) {
	tests := []struct {
		name           string
		messages       []chat.ChatMessage
		expectedSystem string
		expectedRest   int
	}{
		{
			name: "single system message",
			messages: []chat.ChatMessage{
				{Role: chat.ChatRoleSystem, Content: "You are Alice."},
				{Role: chat.ChatRoleUser, Content: "Hello"},
				{Role: chat.ChatRoleAgent, Content: "Hi there!"},
			},
			expectedSystem: "You are Alice.",
			expectedRest:   2,
		},
		{
			name: "persona and story context",
			messages: []chat.ChatMessage{
				{Role: chat.ChatRoleSystem, Content: "You are Alice."},
				{Role: chat.ChatRoleSystem, Content: "Chapter 1: The Clue"},
				{Role: chat.ChatRoleUser, Content: "I search the room"},
			},
			expectedSystem: "You are Alice.\n\nChapter 1: The Clue",
			expectedRest:   1,
		},
		{
			name: "no system messages",
			messages: []chat.ChatMessage{
				{Role: chat.ChatRoleUser, Content: "Hello"},
			},
			expectedSystem: "",
			expectedRest:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, rest := splitChatMessages(tt.messages)
			assert.Equal(t, tt.expectedSystem, system)
			assert.Len(t, rest, tt.expectedRest)
			for _, msg := range rest {
				assert.NotEqual(t, chat.ChatRoleSystem, msg.Role)
			}
		})
	}
}

func TestAnthropicService_Chat(t *testing.T) {
	var got anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Hello, "},{"type":"text","text":"traveler."}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	svc := NewAnthropicService("test-key", server.URL+"/", "claude-test", 0.5, testLogger())
	assert.Equal(t, "anthropic", svc.Provider())
	require.NoError(t, svc.InitModel(context.Background(), "claude-test"))

	resp, err := svc.Chat(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, "Hello, traveler.", resp.Message)

	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, "You are Alice.", got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, chat.ChatRoleUser, got.Messages[0].Role)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.5, *got.Temperature, 0.001)
}

func TestAnthropicService_ChatErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		payload  string
		messages []chat.ChatMessage
	}{
		{name: "server error", status: http.StatusInternalServerError, payload: `{"error":{"type":"api_error","message":"overloaded"}}`},
		{name: "error body", status: http.StatusOK, payload: `{"error":{"type":"invalid_request_error","message":"bad"}}`},
		{name: "empty content", status: http.StatusOK, payload: `{"content":[]}`},
		{name: "malformed", status: http.StatusOK, payload: `{"content":`},
		{name: "only system messages", status: http.StatusOK, payload: `{}`, messages: []chat.ChatMessage{{Role: chat.ChatRoleSystem, Content: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer server.Close()

			msgs := tt.messages
			if msgs == nil {
				msgs = testMessages
			}
			svc := NewAnthropicService("k", server.URL, "m", 0.7, testLogger())
			_, err := svc.Chat(context.Background(), msgs)
			assert.Error(t, err)
		})
	}
}
