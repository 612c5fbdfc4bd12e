package ingest

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// DefaultChunkSize is the maximum characters per chunk.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the characters shared by consecutive chunks.
	DefaultChunkOverlap = 200
)

// separators in priority order: paragraph, line, word, character.
var separators = []string{"\n\n", "\n", " ", ""}

// Splitter breaks text into overlapping chunks, preferring paragraph, then
// line, then word, then character boundaries.
type Splitter struct {
	ts textsplitter.RecursiveCharacter
}

// NewSplitter creates a Splitter. Non-positive values fall back to the defaults.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = min(DefaultChunkOverlap, size/5)
	}
	return &Splitter{ts: textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(separators),
	)}
}

// Split returns the non-blank chunks of text in document order.
func (s *Splitter) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	pieces, err := s.ts.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("ingest: split: %w", err)
	}
	out := pieces[:0]
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
