package textutil

import (
	"strings"
)

// Normalize trims text and collapses runs of whitespace into single spaces.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Truncate keeps at most maxWords whitespace-delimited words of text.
// Tokens are approximated by words to avoid a tokenizer dependency.
// A non-positive maxWords disables truncation. The second return value
// reports whether anything was cut.
func Truncate(text string, maxWords int) (string, bool) {
	words := strings.Fields(text)
	if maxWords <= 0 || len(words) <= maxWords {
		return strings.Join(words, " "), false
	}
	return strings.Join(words[:maxWords], " "), true
}
