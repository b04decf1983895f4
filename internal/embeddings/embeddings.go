package embeddings

import (
	"context"
	"errors"
	"math"
)

// Vector is a simple float32 slice wrapper.
type Vector []float32

// Embedder defines the embedding interface.
// Vectors returned by one Embedder share a single dimensionality, and Model
// names the model that produced them so stored vectors can be matched to it.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
	Model() string
}

var (
	// ErrEmptyResponse is returned when a provider answers without vectors.
	ErrEmptyResponse = errors.New("embedding provider returned no data")
	// ErrBatchMismatch is returned when a batch response does not line up with its inputs.
	ErrBatchMismatch = errors.New("embedding batch size mismatch")
)

// IsZero reports whether every component of v is zero (or v is empty).
func (v Vector) IsZero() bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// CosineSimilarity returns dot(a, b) / (|a| * |b|) accumulated in float64.
// Empty, zero or different-length vectors yield 0. The result is clamped to
// [-1, 1] to absorb rounding error.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, sim))
}
