package store

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"answer-eval/internal/embeddings"
)

func TestParseBankJSONList(t *testing.T) {
	data := []byte(`[{"question_id": 1, "question_text": "What happens in mitosis?", "key_points": [` +
		`{"text": "mitosis involves chromosome duplication"}, ` +
		`{"text": "occurs in one round of division", "weight": 2}]}]`)
	qs, err := ParseBank(data)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "1", qs[0].ID)
	require.Len(t, qs[0].KeyPoints, 2)
	assert.Equal(t, DefaultWeight, qs[0].KeyPoints[0].Weight)
	assert.Equal(t, 2.0, qs[0].KeyPoints[1].Weight)
	assert.False(t, qs[0].HasEmbeddings())
}

func TestParseBankYAMLWrapped(t *testing.T) {
	data := []byte(`
questions:
  - question_id: q-1
    question_text: Name a prime
    embedding_model: test-model
    key_points:
      - text: two is prime
        weight: 1
        embedding: [0.5, 0.5]
`)
	qs, err := ParseBank(data)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "q-1", qs[0].ID)
	assert.Equal(t, "test-model", qs[0].EmbeddingModel)
	assert.True(t, qs[0].HasEmbeddings())
	assert.NoError(t, qs[0].Validate())
}

func TestParseBankRejectsDuplicates(t *testing.T) {
	_, err := ParseBank([]byte(`[{"question_id": "a"}, {"question_id": "a"}]`))
	assert.Error(t, err)
}

func TestParseBankRejectsMissingID(t *testing.T) {
	_, err := ParseBank([]byte(`[{"question_text": "no id"}]`))
	assert.Error(t, err)
}

func TestParseBankRejectsNonFiniteWeights(t *testing.T) {
	for name, weight := range map[string]string{
		"NaN":      ".nan",
		"+Inf":     ".inf",
		"-Inf":     "-.inf",
		"negative": "-2",
	} {
		t.Run(name, func(t *testing.T) {
			data := []byte("- question_id: q-1\n  question_text: x\n  key_points:\n    - text: y\n      weight: " + weight + "\n")
			_, err := ParseBank(data)
			assert.ErrorContains(t, err, "invalid weight")
		})
	}
}

func TestValidWeight(t *testing.T) {
	assert.True(t, ValidWeight(1))
	assert.True(t, ValidWeight(1e300))
	assert.False(t, ValidWeight(0))
	assert.False(t, ValidWeight(-1))
	assert.False(t, ValidWeight(math.NaN()))
	assert.False(t, ValidWeight(math.Inf(1)))
	assert.False(t, ValidWeight(math.Inf(-1)))
}

func TestLoadBank(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "questions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- question_id: q-1\n  question_text: x\n  key_points:\n    - text: y\n"), 0o600))

	qs, err := LoadBank(path)
	require.NoError(t, err)
	require.Len(t, qs, 1)

	_, err = LoadBank(filepath.Join(dir, "questions.csv"))
	assert.Error(t, err)

	_, err = LoadBank(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestSaveBankRoundTripsEmbeddings(t *testing.T) {
	dir := t.TempDir()
	q := sampleQuestion("q-1", 2)
	for _, name := range []string{"bank.json", "bank.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, SaveBank(path, []Question{q}))

			got, err := LoadBank(path)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, q, got[0])
		})
	}

	assert.Error(t, SaveBank(filepath.Join(dir, "bank.csv"), []Question{q}))
	assert.Error(t, SaveBank(filepath.Join(dir, "missing", "bank.json"), []Question{q}))
}

func TestApplyEmbeddings(t *testing.T) {
	const model = "test-model"
	cachedQ := Question{
		ID: "q-1", Text: "Explain mitosis.", EmbeddingModel: model,
		KeyPoints: []KeyPoint{
			{Text: "chromosomes duplicate", Weight: 1, Embedding: embeddings.Vector{1, 0}},
			{Text: "two daughter cells", Weight: 2, Embedding: embeddings.Vector{0, 1}},
		},
	}
	raw := func() Question {
		return Question{ID: "q-1", Text: "Explain mitosis.", KeyPoints: []KeyPoint{
			{Text: "chromosomes duplicate", Weight: 1},
			{Text: "two daughter cells", Weight: 2},
		}}
	}

	t.Run("matching key points", func(t *testing.T) {
		bank := []Question{raw()}
		assert.Equal(t, 1, ApplyEmbeddings(bank, []Question{cachedQ}, model))
		assert.Equal(t, model, bank[0].EmbeddingModel)
		assert.Equal(t, embeddings.Vector{0, 1}, bank[0].KeyPoints[1].Embedding)
		assert.NoError(t, bank[0].Validate())
	})

	stale := map[string]func(bank *Question, cached *Question){
		"edited text":      func(b, _ *Question) { b.KeyPoints[0].Text = "DNA replicates" },
		"edited weight":    func(b, _ *Question) { b.KeyPoints[1].Weight = 3 },
		"added key point":  func(b, _ *Question) { b.KeyPoints = append(b.KeyPoints, KeyPoint{Text: "x", Weight: 1}) },
		"other model":      func(_, c *Question) { c.EmbeddingModel = "other-model" },
		"mixed dimensions": func(_, c *Question) { c.KeyPoints[1].Embedding = embeddings.Vector{1, 2, 3} },
		"other question":   func(_, c *Question) { c.ID = "q-2" },
	}
	for name, change := range stale {
		t.Run(name, func(t *testing.T) {
			bank := []Question{raw()}
			cached := cachedQ.Clone()
			change(&bank[0], &cached)
			assert.Equal(t, 0, ApplyEmbeddings(bank, []Question{cached}, model))
			assert.False(t, bank[0].HasEmbeddings())
		})
	}
}
