package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/jwebster45206/companion-engine/internal/services/events"
	"github.com/jwebster45206/companion-engine/pkg/storage"
)

type ConsoleConfig struct {
	APIBaseURL string
	UserID     string
	Timeout    time.Duration
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func main() {
	cfg := &ConsoleConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		UserID:     getEnv("COMPANION_USER", "console-"+uuid.NewString()[:8]),
		Timeout:    90 * time.Second,
	}
	if err := storage.ValidateTarget(cfg.UserID); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid COMPANION_USER: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
	}

	if !testConnection(client, cfg.APIBaseURL) {
		fmt.Fprintf(os.Stderr, "Could not connect to API. Please ensure the API is running.\nTry: go run ./cmd/api\n")
		os.Exit(1)
	}

	api := &apiClient{baseURL: cfg.APIBaseURL, user: cfg.UserID, http: client}

	p := tea.NewProgram(NewConsoleUI(cfg, api),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		err := api.listenToSSE(ctx, func(ev events.Event) {
			p.Send(progressEventMsg{event: ev})
		})
		if err != nil && !errors.Is(err, errEventsDisabled) && ctx.Err() == nil {
			p.Send(progressEventMsg{err: err})
		}
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
