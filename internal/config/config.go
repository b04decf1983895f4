package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"answer-eval/internal/scoring"
)

// Config holds runtime configuration for the evaluator and author services.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Upload limits
	MaxUploadSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"` // 10MB in bytes

	// Store
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"file"` // "file" (question bank loaded at startup) or "postgres"
	DBURL         string `env:"DB_URL"`
	QuestionsFile string `env:"QUESTIONS_FILE" envDefault:"questions.json"`

	// EmbeddingsCacheFile keeps key point embeddings computed for the file
	// store across restarts. Empty disables it.
	EmbeddingsCacheFile string `env:"EMBEDDINGS_CACHE_FILE"`

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"none"` // "nats" (enables question authoring) or "none"
	QueueURL      string `env:"QUEUE_URL"`

	// Cache
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"redis"` // "redis" (falls back to no-op when unreachable) or "none"
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"3600"` // seconds

	// LLM & Embeddings
	LLMProvider         string        `env:"LLM_PROVIDER" envDefault:"openai"` // "openai", or "stub"/"none" for the local hashing embedder
	OpenAIKey           string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL       string        `env:"OPENAI_BASE_URL"`
	LLMModel            string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel      string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDimensions int           `env:"EMBEDDING_DIMENSIONS" envDefault:"0"`
	EmbeddingTimeout    time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"10s"`
	EmbeddingMaxRetries int           `env:"EMBEDDING_MAX_RETRIES" envDefault:"3"`
	EmbeddingRetryBase  time.Duration `env:"EMBEDDING_RETRY_BASE" envDefault:"200ms"`

	// Scoring & feedback
	HitThreshold       float64 `env:"HIT_THRESHOLD" envDefault:"0.75"`
	RoundingMode       string  `env:"ROUNDING_MODE" envDefault:"half_even"`
	FeedbackHighBand   int     `env:"FEEDBACK_HIGH_BAND" envDefault:"80"`
	FeedbackLowBand    int     `env:"FEEDBACK_LOW_BAND" envDefault:"50"`
	MaxAnswerWords     int     `env:"MAX_ANSWER_WORDS" envDefault:"2000"`
	PublishConcurrency int     `env:"PUBLISH_CONCURRENCY" envDefault:"4"`
}

// Load reads configuration from environment variables with defaults. A value
// that is set but cannot be parsed is an error rather than a silent default.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// CacheTTLDuration returns CacheTTL as a duration.
func (c Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// Validate reports every out-of-range or missing setting at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Port <= 0 || c.Port > 65535 {
		add("PORT must be in 1..65535, got %d", c.Port)
	}
	if c.MaxUploadSize <= 0 {
		add("MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSize)
	}

	switch c.StoreProvider {
	case "postgres":
		if c.DBURL == "" {
			add("DB_URL is required when STORE_PROVIDER=postgres")
		}
	case "file":
		if c.QuestionsFile == "" {
			add("QUESTIONS_FILE is required when STORE_PROVIDER=file")
		}
		switch strings.ToLower(filepath.Ext(c.EmbeddingsCacheFile)) {
		case "", ".json", ".yaml", ".yml":
		default:
			add("EMBEDDINGS_CACHE_FILE must be a .json, .yaml or .yml file, got %s", c.EmbeddingsCacheFile)
		}
	default:
		add("invalid STORE_PROVIDER: %s (valid options: postgres, file)", c.StoreProvider)
	}

	switch c.QueueProvider {
	case "nats":
		if c.QueueURL == "" {
			add("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
	case "none":
	default:
		add("invalid QUEUE_PROVIDER: %s (valid options: nats, none)", c.QueueProvider)
	}

	switch c.CacheProvider {
	case "redis":
		if c.RedisAddr == "" {
			add("REDIS_ADDR is required when CACHE_PROVIDER=redis")
		}
	case "none":
	default:
		add("invalid CACHE_PROVIDER: %s (valid options: redis, none)", c.CacheProvider)
	}
	if c.CacheTTL < 0 {
		add("CACHE_TTL must not be negative, got %d", c.CacheTTL)
	}

	switch c.LLMProvider {
	case "openai":
		if c.OpenAIKey == "" {
			add("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case "stub", "none":
	default:
		add("invalid LLM_PROVIDER: %s (valid options: openai, stub, none)", c.LLMProvider)
	}
	if c.EmbeddingDimensions < 0 {
		add("EMBEDDING_DIMENSIONS must not be negative, got %d", c.EmbeddingDimensions)
	}
	if c.EmbeddingTimeout <= 0 {
		add("EMBEDDING_TIMEOUT must be positive, got %s", c.EmbeddingTimeout)
	}
	if c.EmbeddingMaxRetries < 0 {
		add("EMBEDDING_MAX_RETRIES must not be negative, got %d", c.EmbeddingMaxRetries)
	}

	if c.HitThreshold <= 0 || c.HitThreshold > 1 {
		add("HIT_THRESHOLD must be in (0, 1], got %v", c.HitThreshold)
	}
	if _, err := scoring.ParseRoundingMode(c.RoundingMode); err != nil {
		add("ROUNDING_MODE: %v", err)
	}
	if c.FeedbackLowBand < 0 || c.FeedbackHighBand > 100 || c.FeedbackLowBand > c.FeedbackHighBand {
		add("feedback bands must satisfy 0 <= FEEDBACK_LOW_BAND (%d) <= FEEDBACK_HIGH_BAND (%d) <= 100",
			c.FeedbackLowBand, c.FeedbackHighBand)
	}
	if c.MaxAnswerWords < 0 {
		add("MAX_ANSWER_WORDS must not be negative, got %d", c.MaxAnswerWords)
	}
	if c.PublishConcurrency <= 0 {
		add("PUBLISH_CONCURRENCY must be positive, got %d", c.PublishConcurrency)
	}

	return errors.Join(errs...)
}
