package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"answer-eval/internal/authoring"
	"answer-eval/internal/cache"
	"answer-eval/internal/config"
	"answer-eval/internal/embeddings"
	"answer-eval/internal/evaluation"
	"answer-eval/internal/feedback"
	"answer-eval/internal/llm"
	"answer-eval/internal/logger"
	"answer-eval/internal/metrics"
	"answer-eval/internal/queue"
	"answer-eval/internal/scoring"
	"answer-eval/internal/store"
)

// Deps bundles common runtime dependencies for services.
type Deps struct {
	Config    config.Config
	Log       *slog.Logger
	Store     store.Store
	Queue     queue.Queue // nil when QUEUE_PROVIDER=none
	Cache     cache.Cache
	Embedder  embeddings.Embedder
	LLM       llm.Client // nil unless LLM_PROVIDER=openai
	Publisher *authoring.Publisher

	closers []func() error
}

// Close releases connections opened by Build, in reverse order.
func (d Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Log.Warn("failed to close dependency", "err", err)
		}
	}
}

// EvaluatorDeps adds the evaluation service to Deps.
type EvaluatorDeps struct {
	Deps
	Evaluator *evaluation.Service
}

// Build loads env, config, and shared components.
func Build() (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return Deps{}, fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.New(cfg.LogLevel)
	return BuildWith(cfg, log)
}

// BuildWith builds dependencies from an explicit configuration.
func BuildWith(cfg config.Config, log *slog.Logger) (deps Deps, err error) {
	if err := cfg.Validate(); err != nil {
		return Deps{}, fmt.Errorf("invalid configuration: %w", err)
	}
	metrics.Register()

	deps = Deps{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	if deps.Store, err = buildStore(cfg, log, &deps.closers); err != nil {
		return deps, fmt.Errorf("failed to initialize store: %w", err)
	}
	if deps.Queue, err = buildQueue(cfg, log, &deps.closers); err != nil {
		return deps, fmt.Errorf("failed to initialize queue: %w", err)
	}
	deps.Cache = buildCache(cfg, log)
	deps.closers = append(deps.closers, deps.Cache.Close)
	if deps.LLM, err = buildLLM(cfg, log); err != nil {
		return deps, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	if deps.Embedder, err = buildEmbedder(cfg, log); err != nil {
		return deps, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	// Publishing happens off the request path, so it may retry transient
	// embedding failures; evaluation never does.
	opts := []authoring.Option{
		authoring.WithCache(deps.Cache),
		authoring.WithLogger(log),
		authoring.WithConcurrency(cfg.PublishConcurrency),
	}
	if deps.LLM != nil {
		opts = append(opts, authoring.WithLLM(deps.LLM))
	}
	retrying := embeddings.NewRetrying(deps.Embedder, cfg.EmbeddingMaxRetries+1, cfg.EmbeddingRetryBase)
	deps.Publisher = authoring.NewPublisher(deps.Store, retrying, opts...)
	return deps, nil
}

// BuildEvaluator builds the HTTP evaluator. With the file store the question
// bank is loaded and any missing key point embeddings are computed before it returns.
func BuildEvaluator(ctx context.Context) (EvaluatorDeps, error) {
	deps, err := Build()
	if err != nil {
		return EvaluatorDeps{}, err
	}
	ev, err := NewEvaluator(ctx, deps)
	if err != nil {
		deps.Close()
		return EvaluatorDeps{}, err
	}
	return ev, nil
}

// NewEvaluator seeds the store when needed and wires the evaluation service.
func NewEvaluator(ctx context.Context, deps Deps) (EvaluatorDeps, error) {
	cfg := deps.Config
	if cfg.StoreProvider == "file" {
		questions, err := store.LoadBank(cfg.QuestionsFile)
		if err != nil {
			return EvaluatorDeps{}, fmt.Errorf("failed to load question bank: %w", err)
		}
		if cfg.EmbeddingsCacheFile != "" {
			restoreEmbeddings(cfg.EmbeddingsCacheFile, questions, deps)
		}
		embedded, err := deps.Publisher.Seed(ctx, questions)
		if err != nil {
			return EvaluatorDeps{}, fmt.Errorf("failed to seed question bank: %w", err)
		}
		deps.Log.Info("question bank loaded", "file", cfg.QuestionsFile, "questions", len(questions), "embedded", embedded)
		if embedded > 0 && cfg.EmbeddingsCacheFile != "" {
			saveEmbeddings(ctx, cfg.EmbeddingsCacheFile, questions, deps)
		}
	}

	rounding, err := scoring.ParseRoundingMode(cfg.RoundingMode)
	if err != nil {
		return EvaluatorDeps{}, err
	}
	scorer, err := scoring.New(cfg.HitThreshold, rounding)
	if err != nil {
		return EvaluatorDeps{}, err
	}
	composer, err := feedback.NewComposer(cfg.FeedbackHighBand, cfg.FeedbackLowBand)
	if err != nil {
		return EvaluatorDeps{}, err
	}

	svc := evaluation.New(deps.Store, deps.Embedder, scorer, composer,
		evaluation.WithCache(deps.Cache),
		evaluation.WithLogger(deps.Log),
		evaluation.WithEmbeddingTimeout(cfg.EmbeddingTimeout),
		evaluation.WithCacheTTL(cfg.CacheTTLDuration()),
		evaluation.WithMaxAnswerWords(cfg.MaxAnswerWords),
	)
	return EvaluatorDeps{Deps: deps, Evaluator: svc}, nil
}

// restoreEmbeddings reuses embeddings saved by an earlier run. A missing or
// unreadable cache only means more re-embedding.
func restoreEmbeddings(path string, questions []store.Question, deps Deps) {
	cached, err := store.LoadBank(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return
	case err != nil:
		deps.Log.Warn("ignoring unreadable embeddings cache", "file", path, "err", err)
		return
	}
	n := store.ApplyEmbeddings(questions, cached, deps.Embedder.Model())
	deps.Log.Info("restored cached key point embeddings", "file", path, "questions", n)
}

func saveEmbeddings(ctx context.Context, path string, questions []store.Question, deps Deps) {
	out := make([]store.Question, 0, len(questions))
	for _, q := range questions {
		saved, err := deps.Store.GetQuestion(ctx, q.ID)
		if err != nil {
			deps.Log.Warn("skipping embeddings cache write", "file", path, "err", err)
			return
		}
		out = append(out, saved)
	}
	if err := store.SaveBank(path, out); err != nil {
		deps.Log.Warn("failed to write embeddings cache", "file", path, "err", err)
		return
	}
	deps.Log.Info("wrote key point embeddings cache", "file", path, "questions", len(out))
}

// BuildAuthor builds the authoring worker, which needs a shared store and a queue.
func BuildAuthor() (Deps, error) {
	deps, err := Build()
	if err != nil {
		return Deps{}, err
	}
	if deps.Config.StoreProvider != "postgres" || deps.Queue == nil {
		deps.Close()
		return Deps{}, fmt.Errorf("author worker requires STORE_PROVIDER=postgres and QUEUE_PROVIDER=nats")
	}
	return deps, nil
}

func buildStore(cfg config.Config, log *slog.Logger, closers *[]func() error) (store.Store, error) {
	switch cfg.StoreProvider {
	case "postgres":
		db, err := store.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		*closers = append(*closers, db.Close)
		log.Info("using Postgres store")
		return db, nil
	case "file":
		log.Info("using in-memory store", "questions_file", cfg.QuestionsFile)
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid options: postgres, file)", cfg.StoreProvider)
	}
}

func buildQueue(cfg config.Config, log *slog.Logger, closers *[]func() error) (queue.Queue, error) {
	switch cfg.QueueProvider {
	case "nats":
		nc, err := nats.Connect(cfg.QueueURL, nats.Name("answer-eval"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		*closers = append(*closers, nc.Drain)
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), nil
	case "none":
		log.Info("queue disabled; question authoring endpoint unavailable")
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid options: nats, none)", cfg.QueueProvider)
	}
}

// buildCache never fails: an unreachable Redis degrades to no caching.
func buildCache(cfg config.Config, log *slog.Logger) cache.Cache {
	if cfg.CacheProvider != "redis" {
		log.Info("evaluation cache disabled")
		return cache.NewNoOpCache()
	}
	c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Warn("redis unavailable; continuing without cache", "addr", cfg.RedisAddr, "err", err)
		return cache.NewNoOpCache()
	}
	log.Info("using Redis cache", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTLDuration())
	return c
}

func openAIOptions(cfg config.Config) []option.RequestOption {
	if cfg.OpenAIBaseURL == "" {
		return nil
	}
	return []option.RequestOption{option.WithBaseURL(cfg.OpenAIBaseURL)}
}

func buildLLM(cfg config.Config, log *slog.Logger) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		client, err := llm.NewOpenAIClient(cfg.OpenAIKey, openai.ChatModel(cfg.LLMModel), openAIOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
		}
		log.Info("using OpenAI LLM client", "model", cfg.LLMModel)
		return client, nil
	case "stub", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER: %s (valid options: openai, stub, none)", cfg.LLMProvider)
	}
}

func buildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	switch cfg.LLMProvider {
	case "openai":
		embedder, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, openai.EmbeddingModel(cfg.EmbeddingModel),
			cfg.EmbeddingDimensions, openAIOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)
		return embedder, nil
	case "stub", "none":
		embedder := embeddings.NewHashingEmbedder(cfg.EmbeddingDimensions)
		log.Info("using hashing embedder", "model", embedder.Model())
		return embedder, nil
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER: %s (valid options: openai, stub, none)", cfg.LLMProvider)
	}
}
