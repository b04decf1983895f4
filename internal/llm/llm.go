package llm

import (
	"context"
	"errors"
)

// ErrNoKeyPoints is returned when the model produced no usable key points.
var ErrNoKeyPoints = errors.New("llm: no key points extracted")

// Client is a minimal LLM interface to allow pluggable providers.
type Client interface {
	// ExtractKeyPoints distills a model answer into short, self-contained key points.
	ExtractKeyPoints(ctx context.Context, question, modelAnswer string) ([]string, error)
}
