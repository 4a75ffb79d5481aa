package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string     `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	Environment string     `envconfig:"ENVIRONMENT" default:"development"`
	LogLevelRaw string     `envconfig:"LOG_LEVEL" default:"info"`
	LogLevel    slog.Level `ignored:"true"`

	// Text generation
	LLMProvider       string        `envconfig:"LLM_PROVIDER" default:"ollama" validate:"oneof=ollama openai venice anthropic mock"`
	ModelName         string        `envconfig:"MODEL_NAME" default:"qwen2.5:7b" validate:"required"`
	OllamaURL         string        `envconfig:"OLLAMA_URL" default:"http://localhost:11434" validate:"omitempty,url"`
	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY" validate:"required_if=LLMProvider openai"`
	OpenAIBaseURL     string        `envconfig:"OPENAI_BASE_URL" validate:"omitempty,url"`
	VeniceAPIKey      string        `envconfig:"VENICE_API_KEY" validate:"required_if=LLMProvider venice"`
	VeniceBaseURL     string        `envconfig:"VENICE_BASE_URL" default:"https://api.venice.ai/api/v1" validate:"omitempty,url"`
	AnthropicAPIKey   string        `envconfig:"ANTHROPIC_API_KEY" validate:"required_if=LLMProvider anthropic"`
	AnthropicBaseURL  string        `envconfig:"ANTHROPIC_BASE_URL" validate:"omitempty,url"`
	GenerationTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"60s" validate:"gt=0"`
	Temperature       float32       `envconfig:"TEMPERATURE" default:"0.8" validate:"gte=0,lte=2"`

	// Persistence
	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"file" validate:"oneof=file redis sqlite"`
	DataDir        string `envconfig:"DATA_DIR" default:"./data/snapshots" validate:"required_if=StorageBackend file"`
	RedisURL       string `envconfig:"REDIS_URL" default:"localhost:6379"`
	SQLitePath     string `envconfig:"SQLITE_PATH" default:"./data/companion.db" validate:"required_if=StorageBackend sqlite"`

	// Content
	ProfilePath      string   `envconfig:"PROFILE_PATH" default:"./data/profile.json"`
	RequirementsPath string   `envconfig:"REQUIREMENTS_PATH"`
	HistoryWindow    int      `envconfig:"HISTORY_WINDOW" default:"20" validate:"gte=0"`
	CompletionWords  []string `envconfig:"COMPLETION_KEYWORDS"`

	// Transport
	RateLimit      float64 `envconfig:"RATE_LIMIT" default:"2" validate:"gte=0"` // requests per second per user, 0 disables
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"5" validate:"gte=1"`
	EventsEnabled  bool    `envconfig:"EVENTS_ENABLED" default:"false"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return loadFromEnv()
}

func loadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.EventsEnabled && cfg.RedisURL == "" {
		return nil, fmt.Errorf("invalid configuration: REDIS_URL is required when EVENTS_ENABLED is set")
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelRaw)
	return &cfg, nil
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.StorageBackend == "redis" || c.EventsEnabled
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
