package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/jwebster45206/companion-engine/internal/config"
	"github.com/jwebster45206/companion-engine/internal/engine"
	"github.com/jwebster45206/companion-engine/internal/handlers"
	"github.com/jwebster45206/companion-engine/internal/logger"
	"github.com/jwebster45206/companion-engine/internal/middleware"
	"github.com/jwebster45206/companion-engine/internal/services"
	"github.com/jwebster45206/companion-engine/internal/services/events"
	internalstorage "github.com/jwebster45206/companion-engine/internal/storage"
	"github.com/jwebster45206/companion-engine/pkg/activity"
	"github.com/jwebster45206/companion-engine/pkg/completion"
	"github.com/jwebster45206/companion-engine/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Companion Engine API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"model_name", cfg.ModelName,
		"storage_backend", cfg.StorageBackend)

	llmService, err := newLLMService(cfg, log)
	if err != nil {
		log.Error("Failed to create LLM service", "error", err, "provider", cfg.LLMProvider)
		os.Exit(1)
	}

	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()
	store, err := internalstorage.Open(storageCtx, cfg, log)
	if err != nil {
		log.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage opened successfully")

	// Initialize the model on startup
	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer initCancel()
	if err := llmService.InitModel(initCtx, cfg.ModelName); err != nil {
		log.Error("Failed to initialize LLM model", "error", err, "model", cfg.ModelName)
		os.Exit(1)
	}

	requirements := activity.DefaultRequirements()
	if cfg.RequirementsPath != "" {
		if requirements, err = activity.LoadRequirements(cfg.RequirementsPath); err != nil {
			log.Error("Failed to load unlock requirements", "error", err, "path", cfg.RequirementsPath)
			os.Exit(1)
		}
	}

	var notifier events.Notifier = events.Nop{}
	var broadcaster *events.Broadcaster
	if cfg.EventsEnabled {
		broadcaster = events.NewBroadcaster(redisClientFor(cfg, store), log)
		notifier = broadcaster
		log.Info("Progress events enabled")
	}

	eng := engine.New(engine.Options{
		Storage:           store,
		LLM:               llmService,
		Logger:            log,
		Evaluator:         completion.NewKeywordEvaluator(cfg.CompletionWords...),
		Notifier:          notifier,
		Requirements:      requirements,
		HistoryWindow:     historyWindow(cfg.HistoryWindow),
		GenerationTimeout: cfg.GenerationTimeout,
	})

	loadProfile(eng, cfg.ProfilePath, log)

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), time.Minute)
	if err := eng.RestoreAll(restoreCtx); err != nil {
		log.Warn("Failed to restore snapshots", "error", err)
	}
	restoreCancel()

	mux := handlers.NewRouter(handlers.RouterConfig{
		Engine:      eng,
		Storage:     store,
		LLM:         llmService,
		Broadcaster: broadcaster,
		RateLimiter: middleware.NewRateLimiter(cfg.RateLimit, cfg.RateLimitBurst),
		Logger:      log,
	})

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     middleware.Logger(mux),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout removed to enable streaming - the events endpoint holds connections open
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Server is shutting down...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", "error", err)
	}

	if err := store.Close(); err != nil {
		log.Error("Error closing storage", "error", err)
	}
	log.Info("Server exited")
}

func newLLMService(cfg *config.Config, log *slog.Logger) (services.LLMService, error) {
	switch cfg.LLMProvider {
	case "openai":
		log.Info("Using OpenAI LLM provider")
		return services.NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ModelName, cfg.Temperature, log), nil
	case "venice":
		log.Info("Using Venice LLM provider")
		return services.NewVeniceService(cfg.VeniceAPIKey, cfg.VeniceBaseURL, cfg.ModelName, cfg.Temperature, log), nil
	case "anthropic":
		log.Info("Using Anthropic LLM provider")
		return services.NewAnthropicService(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, cfg.ModelName, cfg.Temperature, log), nil
	case "mock":
		log.Warn("Using mock LLM provider; replies are canned")
		return services.NewMockLLMAPI(), nil
	default:
		log.Info("Using Ollama LLM provider", "url", cfg.OllamaURL)
		return services.NewOllamaService(cfg.OllamaURL, cfg.ModelName, cfg.Temperature, log)
	}
}

// redisClientFor shares the storage connection when snapshots live in Redis.
func redisClientFor(cfg *config.Config, store storage.Storage) *redis.Client {
	if rs, ok := store.(*internalstorage.RedisStorage); ok {
		return rs.Client()
	}
	return redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
}

func historyWindow(n int) int {
	if n == 0 {
		return -1 // disabled
	}
	return n
}

// loadProfile installs the startup profile. A missing or invalid file is
// logged and the server starts without a character.
func loadProfile(eng *engine.Engine, path string, log *slog.Logger) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("No startup profile loaded", "path", path, "error", err)
		return
	}
	p, err := eng.SetupProfile(context.Background(), data)
	if err != nil {
		log.Error("Startup profile is invalid", "path", path, "error", err)
		return
	}
	log.Info("Startup profile loaded", "name", p.Name, "storylines", len(p.Storylines))
}
