package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prose(words int) string {
	vocab := []string{"supplier", "delivery", "late", "invoice", "audit", "risk", "port", "strike", "credit", "rating"}
	var sb strings.Builder
	for i := 0; i < words; i++ {
		if i > 0 {
			if i%40 == 0 {
				sb.WriteString("\n")
			} else {
				sb.WriteString(" ")
			}
		}
		sb.WriteString(vocab[i%len(vocab)])
	}
	return sb.String()
}

func TestSplitter_DeterministicAndBounded(t *testing.T) {
	s := NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
	text := prose(2000)

	first, err := s.Split(text)
	require.NoError(t, err)
	second, err := s.Split(text)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Greater(t, len(first), 1)
	for i, c := range first {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), DefaultChunkSize, "chunk %d too long", i)
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestSplitter_Overlap(t *testing.T) {
	s := NewSplitter(200, 50)
	chunks, err := s.Split(strings.ReplaceAll(prose(300), "\n", " "))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	// The tail of one chunk reappears at the head of the next.
	for i := 1; i < len(chunks); i++ {
		n := sharedBoundary(chunks[i-1], chunks[i])
		assert.Greater(t, n, 0, "chunk %d does not overlap chunk %d", i, i-1)
	}
}

func sharedBoundary(prev, next string) int {
	for n := min(len(prev), len(next)); n > 0; n-- {
		if strings.HasSuffix(prev, next[:n]) {
			return n
		}
	}
	return 0
}

func TestSplitter_PrefersParagraphs(t *testing.T) {
	p1 := strings.Repeat("a", 600)
	p2 := strings.Repeat("b", 600)
	chunks, err := NewSplitter(1000, 200).Split(p1 + "\n\n" + p2)
	require.NoError(t, err)
	assert.Equal(t, []string{p1, p2}, chunks)
}

func TestSplitter_Blank(t *testing.T) {
	chunks, err := NewSplitter(0, -1).Split(" \n\n\t ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitter_ShortText(t *testing.T) {
	chunks, err := NewSplitter(0, 0).Split("Supplier X missed two payments.")
	require.NoError(t, err)
	assert.Equal(t, []string{"Supplier X missed two payments."}, chunks)
}
