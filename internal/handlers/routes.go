package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jwebster45206/companion-engine/internal/engine"
	"github.com/jwebster45206/companion-engine/internal/metrics"
	"github.com/jwebster45206/companion-engine/internal/middleware"
	"github.com/jwebster45206/companion-engine/internal/services"
	"github.com/jwebster45206/companion-engine/internal/services/events"
	"github.com/jwebster45206/companion-engine/pkg/storage"
)

// RouterConfig holds the dependencies of the HTTP API.
type RouterConfig struct {
	Engine      *engine.Engine
	Storage     storage.Storage
	LLM         services.LLMService
	Broadcaster *events.Broadcaster // nil disables the events stream
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
}

// NewRouter registers every API route on a new ServeMux.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()
	log := cfg.Logger

	limited := func(h http.HandlerFunc) http.Handler {
		if cfg.RateLimiter == nil {
			return h
		}
		return cfg.RateLimiter.Wrap(h)
	}

	mux.Handle("GET /health", NewHealthHandler(cfg.Storage, cfg.LLM, cfg.Engine, log))
	mux.Handle("GET /metrics", metrics.Handler())

	profile := NewProfileHandler(cfg.Engine, log)
	mux.HandleFunc("PUT /v1/profile", profile.Setup)
	mux.HandleFunc("PATCH /v1/profile", profile.Update)
	mux.HandleFunc("GET /v1/profile", profile.Get)

	chat := NewChatHandler(cfg.Engine, log)
	mux.Handle("POST /v1/users/{user}/chat", limited(chat.Chat))
	mux.HandleFunc("DELETE /v1/users/{user}/history", chat.ClearHistory)
	mux.HandleFunc("GET /v1/users/{user}/history", chat.ExportHistory)
	mux.HandleFunc("PUT /v1/users/{user}/history", chat.ImportHistory)

	story := NewStoryHandler(cfg.Engine, log)
	mux.HandleFunc("GET /v1/users/{user}/storylines", story.List)
	mux.HandleFunc("POST /v1/users/{user}/storylines/{id}/start", story.Start)
	mux.HandleFunc("GET /v1/users/{user}/storylines/{id}/transcript", story.Transcript)
	mux.Handle("POST /v1/users/{user}/story/advance", limited(story.Advance))
	mux.HandleFunc("GET /v1/users/{user}/character", story.Character)

	act := NewActivityHandler(cfg.Engine, log)
	mux.HandleFunc("POST /v1/users/{user}/workouts", act.RecordWorkout)
	mux.HandleFunc("GET /v1/users/{user}/content", act.Content)
	mux.HandleFunc("POST /v1/users/{user}/unlocks/{id}", act.Unlock)

	snap := NewSnapshotHandler(cfg.Engine, log)
	mux.HandleFunc("POST /v1/users/{user}/snapshot", snap.Save)
	mux.HandleFunc("POST /v1/users/{user}/snapshot/load", snap.Load)
	mux.HandleFunc("DELETE /v1/users/{user}", snap.Reset)

	if cfg.Broadcaster != nil {
		mux.Handle("GET /v1/users/{user}/events", NewEventsHandler(cfg.Broadcaster, log))
	}

	return mux
}
