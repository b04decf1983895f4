package cache

import (
	"context"
	"time"
)

// NoOpCache is a cache implementation that does nothing.
// Used as a fallback when Redis is unavailable - all operations succeed
// but no actual caching occurs (always cache miss).
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// GetEvaluation always returns nil (cache miss)
func (c *NoOpCache) GetEvaluation(ctx context.Context, key string) (*Evaluation, error) {
	return nil, nil
}

// SetEvaluation does nothing and always succeeds
func (c *NoOpCache) SetEvaluation(ctx context.Context, key string, result *Evaluation, ttl time.Duration) error {
	return nil
}

// InvalidateQuestion does nothing and always succeeds
func (c *NoOpCache) InvalidateQuestion(ctx context.Context, questionID string) error {
	return nil
}

// Close does nothing and always succeeds
func (c *NoOpCache) Close() error {
	return nil
}
