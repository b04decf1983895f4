package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores finished evaluations so a repeated submission can skip the
// embedding call. Entries are scoped to a question so republishing it can
// drop them.
type Cache interface {
	// GetEvaluation retrieves a cached evaluation by key
	// Returns nil if not found
	GetEvaluation(ctx context.Context, key string) (*Evaluation, error)

	// SetEvaluation stores an evaluation with TTL
	SetEvaluation(ctx context.Context, key string, result *Evaluation, ttl time.Duration) error

	// InvalidateQuestion removes all cached evaluations for a question
	InvalidateQuestion(ctx context.Context, questionID string) error

	// Close closes the cache connection
	Close() error
}

// Evaluation is the cached form of an evaluation result.
type Evaluation struct {
	QuestionID       string   `json:"question_id"`
	Score            int      `json:"score"`
	Feedback         string   `json:"feedback"`
	HitKeyPoints     []string `json:"hit_key_points"`
	MissingKeyPoints []string `json:"missing_key_points"`
}

// GenerateCacheKey builds "<questionID>:<sha256(fingerprint, answer)>". The
// fingerprint identifies the scoring configuration (model, threshold, bands)
// so a configuration change never serves stale results.
func GenerateCacheKey(questionID, fingerprint, answer string) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(answer))
	return questionID + ":" + hex.EncodeToString(h.Sum(nil))
}
