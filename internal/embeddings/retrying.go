package embeddings

import (
	"context"
	"time"

	"answer-eval/internal/retry"
)

// Retrying wraps an Embedder with exponential-backoff retries for transient
// provider failures. Retries stop as soon as the caller's context is done.
type Retrying struct {
	next     Embedder
	attempts int
	base     time.Duration
}

// NewRetrying returns next wrapped with up to attempts tries per call.
func NewRetrying(next Embedder, attempts int, base time.Duration) *Retrying {
	if attempts <= 0 {
		attempts = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return &Retrying{next: next, attempts: attempts, base: base}
}

func (r *Retrying) Model() string {
	return r.next.Model()
}

func (r *Retrying) Embed(ctx context.Context, text string) (Vector, error) {
	var out Vector
	err := retry.Do(ctx, r.attempts, r.base, Retryable, func(ctx context.Context) error {
		v, err := r.next.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Retrying) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	var out []Vector
	err := retry.Do(ctx, r.attempts, r.base, Retryable, func(ctx context.Context) error {
		v, err := r.next.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
