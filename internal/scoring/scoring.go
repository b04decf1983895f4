// Package scoring classifies key points as hit or missed by embedding
// similarity and aggregates them into a 0-100 score.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"answer-eval/internal/embeddings"
	"answer-eval/internal/store"
)

// DefaultThreshold is the similarity at or above which a key point counts as hit.
const DefaultThreshold = 0.75

var (
	ErrNoKeyPoints       = errors.New("no key points to score against")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// RoundingMode selects how the raw weighted percentage becomes an integer.
type RoundingMode string

const (
	// RoundHalfEven rounds .5 to the nearest even integer.
	RoundHalfEven RoundingMode = "half_even"
	// RoundHalfUp rounds .5 up.
	RoundHalfUp RoundingMode = "half_up"
)

// ParseRoundingMode accepts the configured names of the rounding modes.
func ParseRoundingMode(s string) (RoundingMode, error) {
	switch RoundingMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoundHalfEven:
		return RoundHalfEven, nil
	case RoundHalfUp:
		return RoundHalfUp, nil
	default:
		return "", fmt.Errorf("unknown rounding mode %q (valid: %s, %s)", s, RoundHalfEven, RoundHalfUp)
	}
}

func (m RoundingMode) round(x float64) float64 {
	if m == RoundHalfUp {
		return math.Round(x)
	}
	return math.RoundToEven(x)
}

// KeyPointScore is the per key point outcome.
type KeyPointScore struct {
	Text       string
	Weight     float64
	Similarity float64
	Hit        bool
}

// Result is the structured scoring outcome. KeyPoints, Hits and Misses keep
// the order the key points were given in.
type Result struct {
	KeyPoints   []KeyPointScore
	Hits        []string
	Misses      []string
	HitWeight   float64
	TotalWeight float64
	RawScore    float64
	Score       int
}

// Scorer is safe for concurrent use; it holds configuration only.
type Scorer struct {
	threshold float64
	rounding  RoundingMode
}

// New returns a Scorer with the given hit threshold, which must lie in (0, 1].
func New(threshold float64, rounding RoundingMode) (*Scorer, error) {
	if threshold <= 0 || threshold > 1 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("hit threshold must be in (0, 1], got %v", threshold)
	}
	if rounding == "" {
		rounding = RoundHalfEven
	}
	if _, err := ParseRoundingMode(string(rounding)); err != nil {
		return nil, err
	}
	return &Scorer{threshold: threshold, rounding: rounding}, nil
}

func (s *Scorer) Threshold() float64 { return s.threshold }

func (s *Scorer) Rounding() RoundingMode { return s.rounding }

// Score compares answer against every key point. A zero answer vector scores
// similarity 0 everywhere rather than failing.
func (s *Scorer) Score(answer embeddings.Vector, keyPoints []store.KeyPoint) (Result, error) {
	if len(keyPoints) == 0 {
		return Result{}, ErrNoKeyPoints
	}
	for i, kp := range keyPoints {
		if len(kp.Embedding) != len(answer) {
			return Result{}, fmt.Errorf("%w: answer has %d dimensions, key point %d has %d",
				ErrDimensionMismatch, len(answer), i, len(kp.Embedding))
		}
	}

	res := Result{
		KeyPoints: make([]KeyPointScore, len(keyPoints)),
		Hits:      []string{},
		Misses:    []string{},
	}
	all := make([]float64, len(keyPoints))
	var hits []float64
	for i, kp := range keyPoints {
		w := kp.Weight
		if !store.ValidWeight(w) {
			w = store.DefaultWeight
		}
		sim := embeddings.CosineSimilarity(answer, kp.Embedding)
		hit := sim >= s.threshold
		res.KeyPoints[i] = KeyPointScore{Text: kp.Text, Weight: w, Similarity: sim, Hit: hit}
		all[i] = w
		if hit {
			hits = append(hits, w)
			res.Hits = append(res.Hits, kp.Text)
		} else {
			res.Misses = append(res.Misses, kp.Text)
		}
	}

	res.HitWeight = sortedSum(hits)
	res.TotalWeight = sortedSum(all)
	res.RawScore = 100 * res.HitWeight / res.TotalWeight
	if math.IsNaN(res.RawScore) {
		// Weights too large to sum overflow to Inf/Inf.
		res.RawScore = 0
	}
	res.Score = int(math.Max(0, math.Min(100, s.rounding.round(res.RawScore))))
	return res, nil
}

// sortedSum adds ascending so the total does not depend on key point order.
func sortedSum(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	var sum float64
	for _, x := range sorted {
		sum += x
	}
	return sum
}
