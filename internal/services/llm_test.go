package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/companion-engine/pkg/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testMessages = []chat.ChatMessage{
	{Role: chat.ChatRoleSystem, Content: "You are Alice."},
	{Role: chat.ChatRoleUser, Content: "Hello"},
}

func TestOllamaService_Chat(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"test-model","message":{"role":"assistant","content":"  Hi there!  "},"done":true}`))
	}))
	defer server.Close()

	svc, err := NewOllamaService(server.URL+"/v1", "test-model", 0.5, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "ollama", svc.Provider())

	resp, err := svc.Chat(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", resp.Message)

	assert.Equal(t, "test-model", got["model"])
	assert.Equal(t, false, got["stream"])
	msgs, ok := got["messages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestOllamaService_ChatErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{name: "server error", status: http.StatusInternalServerError, payload: `{"error":"model crashed"}`},
		{name: "empty content", status: http.StatusOK, payload: `{"model":"m","message":{"role":"assistant","content":""},"done":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			}))
			defer server.Close()

			svc, err := NewOllamaService(server.URL, "m", 0.5, testLogger())
			require.NoError(t, err)

			_, err = svc.Chat(context.Background(), testMessages)
			assert.Error(t, err)
		})
	}
}

func TestOpenAIService_Chat(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":"Hello from the API"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":4,"total_tokens":9}}`))
	}))
	defer server.Close()

	svc := NewOpenAIService("test-key", server.URL, "gpt-test", 0.7, testLogger())
	assert.Equal(t, "openai", svc.Provider())

	resp, err := svc.Chat(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, "Hello from the API", resp.Message)
	assert.Equal(t, "gpt-test", got["model"])
}

func TestOpenAIService_ChatNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[]}`))
	}))
	defer server.Close()

	svc := NewVeniceService("k", server.URL, "venice-model", 0.7, testLogger())
	assert.Equal(t, "venice", svc.Provider())

	_, err := svc.Chat(context.Background(), testMessages)
	assert.Error(t, err)
}

func TestOpenAIService_InitModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-test","object":"model"}]}`))
	}))
	defer server.Close()

	svc := NewOpenAIService("k", server.URL, "gpt-test", 0.7, testLogger())
	assert.NoError(t, svc.InitModel(context.Background(), "gpt-test"))
	assert.Error(t, svc.InitModel(context.Background(), "missing-model"))
}
