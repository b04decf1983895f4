package evaluation

import (
	"errors"
	"fmt"

	"answer-eval/internal/store"
)

var (
	// ErrInvalidInput is returned for an answer that is empty after trimming.
	ErrInvalidInput = errors.New("answer must not be empty")
	// ErrNotFound is the store's sentinel, returned unchanged for unknown questions.
	ErrNotFound = store.ErrNotFound
	// ErrEmbeddingUnavailable matches every *EmbeddingError.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
)

// EmbeddingErrorKind tells embedding failures apart for logs and metrics.
type EmbeddingErrorKind string

const (
	KindTimeout      EmbeddingErrorKind = "timeout"
	KindProvider     EmbeddingErrorKind = "provider"
	KindIncompatible EmbeddingErrorKind = "incompatible"
)

// EmbeddingError reports why the answer could not be embedded or compared.
type EmbeddingError struct {
	Kind EmbeddingErrorKind
	Err  error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrEmbeddingUnavailable, e.Kind, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func (e *EmbeddingError) Is(target error) bool {
	return target == ErrEmbeddingUnavailable
}
