// Package feedback turns a scoring result into a short summary whose tone
// follows the score.
package feedback

import (
	"fmt"
	"strings"

	"answer-eval/internal/scoring"
)

const (
	DefaultHighBand = 80
	DefaultLowBand  = 50
)

// Tone orders feedback from most negative to most positive.
type Tone int

const (
	Corrective Tone = iota
	Neutral
	Encouraging
)

func (t Tone) String() string {
	switch t {
	case Corrective:
		return "corrective"
	case Neutral:
		return "neutral"
	case Encouraging:
		return "encouraging"
	default:
		return fmt.Sprintf("tone(%d)", int(t))
	}
}

// Composer renders feedback. Scores at or above HighBand are encouraging,
// scores below LowBand corrective, anything in between neutral.
type Composer struct {
	highBand int
	lowBand  int
}

// NewComposer requires 0 <= low <= high <= 100.
func NewComposer(high, low int) (*Composer, error) {
	if low < 0 || high > 100 || low > high {
		return nil, fmt.Errorf("feedback bands must satisfy 0 <= low (%d) <= high (%d) <= 100", low, high)
	}
	return &Composer{highBand: high, lowBand: low}, nil
}

// Bands returns the high and low band boundaries.
func (c *Composer) Bands() (high, low int) {
	return c.highBand, c.lowBand
}

// Tone maps a score to its band.
func (c *Composer) Tone(score int) Tone {
	switch {
	case score >= c.highBand:
		return Encouraging
	case score < c.lowBand:
		return Corrective
	default:
		return Neutral
	}
}

// Compose returns one to three sentences for res.
func (c *Composer) Compose(res scoring.Result) string {
	missing := len(res.Misses)
	if res.Score >= 100 && missing == 0 {
		return "Correct! You covered all the key points."
	}

	var sentences []string
	switch c.Tone(res.Score) {
	case Encouraging:
		sentences = append(sentences, "Great answer, you covered most of the key points.")
		if missing > 0 {
			sentences = append(sentences, fmt.Sprintf("Only %s not addressed.", pointCount(missing)))
		}
	case Neutral:
		sentences = append(sentences, fmt.Sprintf("Partial - missing %s. Good start!", pointCount(missing)))
		if missing > 0 {
			sentences = append(sentences, fmt.Sprintf("Consider also explaining: %q.", res.Misses[0]))
		}
	default:
		sentences = append(sentences, "Incorrect - try again.")
		sentences = append(sentences, "Review the material and provide a more complete answer.")
		if missing > 0 && len(res.Hits) > 0 {
			sentences = append(sentences, fmt.Sprintf("You still need to cover %s.", pointCount(missing)))
		}
	}
	return strings.Join(sentences, " ")
}

func pointCount(n int) string {
	if n == 1 {
		return "1 key point"
	}
	return fmt.Sprintf("%d key points", n)
}
