// Package splitter cuts extracted page text into prompt-sized pieces.
package splitter

import (
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// Paragraphs first, then lines, sentences and words.
var proseSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// TextSplitter wraps the langchaingo recursive character splitter.
type TextSplitter struct {
	splitter textsplitter.TextSplitter
	size     int
}

// NewRecursiveCharacterTextSplitter creates a splitter producing chunks of
// at most chunkSize runes.
func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	ts := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(proseSeparators),
	)

	return &TextSplitter{splitter: ts, size: chunkSize}
}

// Size is the configured chunk size.
func (ts *TextSplitter) Size() int { return ts.size }

// SplitText splits text into chunks
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	return ts.splitter.SplitText(text)
}

// Excerpt returns the leading chunk of text, cut on the largest boundary
// that fits. The result never exceeds Size runes.
func (ts *TextSplitter) Excerpt(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= ts.size {
		return text
	}
	chunks, err := ts.splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		return truncate(text, ts.size)
	}
	return truncate(strings.TrimSpace(chunks[0]), ts.size)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
