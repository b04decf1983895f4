package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"answer-eval/internal/authoring"
	"answer-eval/internal/cache"
	"answer-eval/internal/config"
	"answer-eval/internal/embeddings"
	"answer-eval/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

const bankYAML = `questions:
  - question_id: q-1
    question_text: Explain mitosis.
    key_points:
      - text: chromosomes are duplicated
      - text: the cell divides into two identical daughter cells
        weight: 2
`

func fileConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "questions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bankYAML), 0o600))
	return config.Config{
		Port:                8080,
		MaxUploadSize:       1 << 20,
		StoreProvider:       "file",
		QuestionsFile:       path,
		QueueProvider:       "none",
		CacheProvider:       "none",
		LLMProvider:         "stub",
		EmbeddingDimensions: 64,
		EmbeddingTimeout:    time.Second,
		EmbeddingMaxRetries: 1,
		EmbeddingRetryBase:  time.Millisecond,
		HitThreshold:        0.75,
		RoundingMode:        "half_even",
		FeedbackHighBand:    80,
		FeedbackLowBand:     50,
		MaxAnswerWords:      2000,
		PublishConcurrency:  2,
	}
}

func TestBuildEvaluatorFromFileBank(t *testing.T) {
	ctx := context.Background()
	deps, err := BuildWith(fileConfig(t), testLogger())
	require.NoError(t, err)
	defer deps.Close()

	assert.Nil(t, deps.Queue)
	assert.Nil(t, deps.LLM)
	assert.Equal(t, embeddings.HashingModel, deps.Embedder.Model())

	ev, err := NewEvaluator(ctx, deps)
	require.NoError(t, err)

	questions, err := ev.Store.ListQuestions(ctx)
	require.NoError(t, err)
	require.Len(t, questions, 1)

	res, err := ev.Evaluator.Evaluate(ctx, "q-1", "the cell divides into two identical daughter cells")
	require.NoError(t, err)
	// The matched key point carries two thirds of the weight.
	assert.Equal(t, 67, res.Score)
	assert.Equal(t, []string{"the cell divides into two identical daughter cells"}, res.HitKeyPoints)
}

func TestNewEvaluatorReusesEmbeddingsCache(t *testing.T) {
	ctx := context.Background()
	cfg := fileConfig(t)
	cfg.EmbeddingsCacheFile = filepath.Join(t.TempDir(), "embeddings.json")

	deps, err := BuildWith(cfg, testLogger())
	require.NoError(t, err)
	_, err = NewEvaluator(ctx, deps)
	require.NoError(t, err)
	deps.Close()

	saved, err := store.LoadBank(cfg.EmbeddingsCacheFile)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.True(t, saved[0].HasEmbeddings())
	assert.Equal(t, embeddings.HashingModel, saved[0].EmbeddingModel)

	// A restart with the same bank must not embed anything.
	deps, err = BuildWith(cfg, testLogger())
	require.NoError(t, err)
	defer deps.Close()
	emb := new(embeddings.MockEmbedder)
	emb.On("Model").Return(embeddings.HashingModel)
	deps.Embedder = emb
	deps.Publisher = authoring.NewPublisher(deps.Store, emb, authoring.WithLogger(testLogger()))

	ev, err := NewEvaluator(ctx, deps)
	require.NoError(t, err)
	emb.AssertNotCalled(t, "EmbedBatch", mock.Anything, mock.Anything)

	kps, err := ev.Store.GetKeyPoints(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, saved[0].KeyPoints, kps)
}

func TestBuildWithRejectsInvalidConfig(t *testing.T) {
	cfg := fileConfig(t)
	cfg.HitThreshold = 0
	_, err := BuildWith(cfg, testLogger())
	assert.ErrorContains(t, err, "HIT_THRESHOLD")
}

func TestNewEvaluatorMissingBank(t *testing.T) {
	cfg := fileConfig(t)
	cfg.QuestionsFile = filepath.Join(t.TempDir(), "missing.json")
	deps, err := BuildWith(cfg, testLogger())
	require.NoError(t, err)
	defer deps.Close()

	_, err = NewEvaluator(context.Background(), deps)
	assert.Error(t, err)
}

func TestBuildCache(t *testing.T) {
	cfg := fileConfig(t)

	t.Run("disabled", func(t *testing.T) {
		assert.IsType(t, &cache.NoOpCache{}, buildCache(cfg, testLogger()))
	})

	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		cfg.CacheProvider = "redis"
		cfg.RedisAddr = mr.Addr()
		c := buildCache(cfg, testLogger())
		defer c.Close()
		assert.IsType(t, &cache.RedisCache{}, c)
	})

	t.Run("unreachable redis falls back", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()

		cfg.CacheProvider = "redis"
		cfg.RedisAddr = addr
		assert.IsType(t, &cache.NoOpCache{}, buildCache(cfg, testLogger()))
	})
}
