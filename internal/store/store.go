package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"answer-eval/internal/embeddings"
)

// DefaultWeight is applied to key points published without an explicit weight.
const DefaultWeight = 1.0

// ValidWeight reports whether w can weight a key point: positive and finite.
func ValidWeight(w float64) bool {
	return w > 0 && !math.IsInf(w, 0)
}

var (
	// ErrNotFound is returned for an unknown question id.
	ErrNotFound = errors.New("question not found")
	// ErrInvalidQuestion is returned by SaveQuestion for questions that may not be published.
	ErrInvalidQuestion = errors.New("invalid question")
)

// KeyPoint is a reference phrase with its precomputed embedding.
type KeyPoint struct {
	Text      string            `json:"text" yaml:"text"`
	Embedding embeddings.Vector `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	Weight    float64           `json:"weight" yaml:"weight"`
}

// Question is immutable once published.
type Question struct {
	ID             string     `json:"question_id" yaml:"question_id"`
	Text           string     `json:"question_text" yaml:"question_text"`
	EmbeddingModel string     `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
	KeyPoints      []KeyPoint `json:"key_points" yaml:"key_points"`
}

// Dimensions returns the embedding size shared by the question's key points.
func (q Question) Dimensions() int {
	if len(q.KeyPoints) == 0 {
		return 0
	}
	return len(q.KeyPoints[0].Embedding)
}

// Validate checks the publication invariants: at least one key point, every
// key point has text, a positive finite weight and an embedding, and all embeddings
// share one dimensionality.
func (q Question) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("%w: empty question id", ErrInvalidQuestion)
	}
	if len(q.KeyPoints) == 0 {
		return fmt.Errorf("%w: question %s has no key points", ErrInvalidQuestion, q.ID)
	}
	dims := q.Dimensions()
	for i, kp := range q.KeyPoints {
		if strings.TrimSpace(kp.Text) == "" {
			return fmt.Errorf("%w: question %s key point %d has empty text", ErrInvalidQuestion, q.ID, i)
		}
		if !ValidWeight(kp.Weight) {
			return fmt.Errorf("%w: question %s key point %d has invalid weight %v", ErrInvalidQuestion, q.ID, i, kp.Weight)
		}
		if len(kp.Embedding) == 0 {
			return fmt.Errorf("%w: question %s key point %d has no embedding", ErrInvalidQuestion, q.ID, i)
		}
		if len(kp.Embedding) != dims {
			return fmt.Errorf("%w: question %s key point %d has %d dimensions, want %d", ErrInvalidQuestion, q.ID, i, len(kp.Embedding), dims)
		}
	}
	return nil
}

// Clone returns a deep copy so callers never share slices with store state.
func (q Question) Clone() Question {
	out := q
	out.KeyPoints = make([]KeyPoint, len(q.KeyPoints))
	for i, kp := range q.KeyPoints {
		out.KeyPoints[i] = kp
		if kp.Embedding != nil {
			out.KeyPoints[i].Embedding = append(embeddings.Vector(nil), kp.Embedding...)
		}
	}
	return out
}

// withoutEmbeddings returns a copy with embeddings stripped, for listing.
func (q Question) withoutEmbeddings() Question {
	out := q
	out.KeyPoints = make([]KeyPoint, len(q.KeyPoints))
	for i, kp := range q.KeyPoints {
		out.KeyPoints[i] = KeyPoint{Text: kp.Text, Weight: kp.Weight}
	}
	return out
}

// Store holds published questions and their key points. Reads never observe
// a partially published question.
type Store interface {
	GetQuestion(ctx context.Context, id string) (Question, error)
	GetKeyPoints(ctx context.Context, id string) ([]KeyPoint, error)
	ListQuestions(ctx context.Context) ([]Question, error)
	SaveQuestion(ctx context.Context, q Question) error
}
