package feedback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"answer-eval/internal/scoring"
)

func newComposer(t *testing.T) *Composer {
	t.Helper()
	c, err := NewComposer(DefaultHighBand, DefaultLowBand)
	require.NoError(t, err)
	return c
}

func sentenceCount(s string) int {
	n := 0
	for _, r := range s {
		if r == '.' || r == '!' {
			n++
		}
	}
	return n
}

func TestToneBands(t *testing.T) {
	c := newComposer(t)
	tests := []struct {
		score int
		want  Tone
	}{
		{0, Corrective},
		{49, Corrective},
		{50, Neutral},
		{79, Neutral},
		{80, Encouraging},
		{100, Encouraging},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Tone(tt.score), "score %d", tt.score)
	}
}

func TestToneMonotonic(t *testing.T) {
	c := newComposer(t)
	prev := c.Tone(0)
	for score := 1; score <= 100; score++ {
		tone := c.Tone(score)
		assert.GreaterOrEqual(t, tone, prev, "score %d", score)
		prev = tone
	}
}

func TestCompose(t *testing.T) {
	c := newComposer(t)
	tests := []struct {
		name     string
		res      scoring.Result
		contains []string
	}{
		{
			name:     "perfect",
			res:      scoring.Result{Score: 100, Hits: []string{"a"}, Misses: []string{}},
			contains: []string{"Correct!"},
		},
		{
			name:     "encouraging with one miss",
			res:      scoring.Result{Score: 83, Hits: []string{"a", "b", "c", "d", "e"}, Misses: []string{"f"}},
			contains: []string{"Great answer", "1 key point not addressed"},
		},
		{
			name:     "neutral names first missing point",
			res:      scoring.Result{Score: 50, Hits: []string{"a"}, Misses: []string{"occurs in one round of division"}},
			contains: []string{"Partial - missing 1 key point", `"occurs in one round of division"`},
		},
		{
			name:     "corrective with no hits",
			res:      scoring.Result{Score: 0, Hits: []string{}, Misses: []string{"a", "b"}},
			contains: []string{"Incorrect - try again.", "Review the material"},
		},
		{
			name:     "corrective with some hits",
			res:      scoring.Result{Score: 25, Hits: []string{"a"}, Misses: []string{"b", "c", "d"}},
			contains: []string{"Incorrect", "3 key points"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Compose(tt.res)
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
			n := sentenceCount(got)
			assert.GreaterOrEqual(t, n, 1)
			assert.LessOrEqual(t, n, 3, got)
		})
	}
}

func TestComposeIsPure(t *testing.T) {
	c := newComposer(t)
	res := scoring.Result{Score: 60, Hits: []string{"a"}, Misses: []string{"b"}}
	assert.Equal(t, c.Compose(res), c.Compose(res))
	assert.Equal(t, []string{"b"}, res.Misses)
}

func TestComposeNeverMoreNegativeForHigherScore(t *testing.T) {
	c := newComposer(t)
	prev := Corrective
	for score := 0; score <= 100; score += 5 {
		got := c.Compose(scoring.Result{Score: score, Misses: []string{"x"}, Hits: []string{"y"}})
		var tone Tone
		switch {
		case strings.HasPrefix(got, "Great") || strings.HasPrefix(got, "Correct"):
			tone = Encouraging
		case strings.HasPrefix(got, "Partial"):
			tone = Neutral
		default:
			tone = Corrective
		}
		assert.GreaterOrEqual(t, tone, prev, "score %d: %s", score, got)
		prev = tone
	}
}

func TestNewComposerValidation(t *testing.T) {
	_, err := NewComposer(40, 60)
	assert.Error(t, err)
	_, err = NewComposer(101, 50)
	assert.Error(t, err)
	_, err = NewComposer(80, -1)
	assert.Error(t, err)
	_, err = NewComposer(70, 70)
	assert.NoError(t, err)
}

func TestToneString(t *testing.T) {
	assert.Equal(t, "encouraging", Encouraging.String())
	assert.Equal(t, "neutral", Neutral.String())
	assert.Equal(t, "corrective", Corrective.String())
}
