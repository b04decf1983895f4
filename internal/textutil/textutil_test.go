package textutil

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"   \t\n ", ""},
		{"  mitosis  involves\n\nchromosome duplication ", "mitosis involves chromosome duplication"},
		{"single", "single"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxWords int
		want     string
		cut      bool
	}{
		{"under limit", "one two three", 5, "one two three", false},
		{"at limit", "one two three", 3, "one two three", false},
		{"over limit", "one two three four", 2, "one two", true},
		{"disabled", "one two three", 0, "one two three", false},
		{"collapses whitespace", " one\t two ", 5, "one two", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cut := Truncate(tt.text, tt.maxWords)
			if got != tt.want || cut != tt.cut {
				t.Errorf("got (%q, %v), want (%q, %v)", got, cut, tt.want, tt.cut)
			}
		})
	}
}
