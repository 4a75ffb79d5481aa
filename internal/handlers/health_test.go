package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jwebster45206/companion-engine/internal/engine"
	"github.com/jwebster45206/companion-engine/internal/services"
	"github.com/jwebster45206/companion-engine/pkg/storage"
)

func TestHealthHandler_ServeHTTP(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // Reduce noise in tests
	}))

	tests := []struct {
		name             string
		setupStorage     func() storage.Storage
		withProfile      bool
		expectedStatus   int
		expectedHealth   string
		expectedStorage  string
		expectedCharName string
	}{
		{
			name: "all healthy",
			setupStorage: func() storage.Storage {
				return storage.NewMockStorage()
			},
			withProfile:      true,
			expectedStatus:   http.StatusOK,
			expectedHealth:   "healthy",
			expectedStorage:  "healthy",
			expectedCharName: "Alice",
		},
		{
			name: "unhealthy storage",
			setupStorage: func() storage.Storage {
				s := storage.NewMockStorage()
				s.SetPingError(errors.New("connection failed"))
				return s
			},
			withProfile:      true,
			expectedStatus:   http.StatusServiceUnavailable,
			expectedHealth:   "degraded",
			expectedStorage:  "unhealthy",
			expectedCharName: "Alice",
		},
		{
			name: "no profile yet",
			setupStorage: func() storage.Storage {
				return storage.NewMockStorage()
			},
			expectedStatus:   http.StatusOK,
			expectedHealth:   "healthy",
			expectedStorage:  "healthy",
			expectedCharName: "not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := tt.setupStorage()
			llm := services.NewMockLLMAPI()
			e := engine.New(engine.Options{Storage: store, LLM: llm, Logger: logger})
			if tt.withProfile {
				if _, err := e.SetupProfile(t.Context(), []byte(testProfileJSON)); err != nil {
					t.Fatalf("SetupProfile: %v", err)
				}
			}

			handler := NewHealthHandler(store, llm, e, logger)
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected Content-Type application/json, got %s", ct)
			}

			var response HealthResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
				t.Fatalf("Failed to unmarshal response: %v", err)
			}

			if response.Status != tt.expectedHealth {
				t.Errorf("Expected health status %s, got %s", tt.expectedHealth, response.Status)
			}
			if response.Service != "companion-engine" {
				t.Errorf("Expected service companion-engine, got %s", response.Service)
			}
			if time.Since(response.Timestamp) > time.Minute {
				t.Errorf("Timestamp looks stale: %v", response.Timestamp)
			}
			if got := response.Components["storage"]; got != tt.expectedStorage {
				t.Errorf("Expected storage %s, got %v", tt.expectedStorage, got)
			}
			if got := response.Components["llm_provider"]; got != "mock" {
				t.Errorf("Expected llm_provider mock, got %v", got)
			}
			if got := response.Components["character"]; got != tt.expectedCharName {
				t.Errorf("Expected character %s, got %v", tt.expectedCharName, got)
			}
		})
	}
}
