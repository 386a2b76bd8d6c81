package splitter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExcerpt(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(40, 0)
	if ts.Size() != 40 {
		t.Fatalf("Size() = %d, want 40", ts.Size())
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"short text is kept", "  short text  ", "short text"},
		{"cut on paragraph", "First paragraph is here.\n\nSecond paragraph goes on and on.", "First paragraph is here."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ts.Excerpt(tt.text); got != tt.want {
				t.Errorf("Excerpt() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExcerptNeverExceedsSize(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(25, 0)
	inputs := []string{
		strings.Repeat("ü", 200),
		strings.Repeat("word ", 100),
		"A sentence. Another sentence. " + strings.Repeat("x", 60),
	}
	for _, in := range inputs {
		got := ts.Excerpt(in)
		if n := utf8.RuneCountInString(got); n > 25 || n == 0 {
			t.Errorf("Excerpt(%q...) has %d runes", in[:10], n)
		}
	}
}

func TestSplitText(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(20, 0)
	chunks, err := ts.SplitText("alpha beta gamma delta epsilon zeta eta theta")
	if err != nil {
		t.Fatalf("SplitText() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if utf8.RuneCountInString(c) > 20 {
			t.Errorf("chunk %q longer than 20 runes", c)
		}
	}
}
