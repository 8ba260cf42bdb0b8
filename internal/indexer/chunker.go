package indexer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hyperjump/kotae/internal/backend"
	"github.com/hyperjump/kotae/pkg/utils"
)

// Chunker splits text into overlapping, sentence-aware character windows.
// Sizes are counted in runes.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

type span struct {
	start, end int
}

// NewChunker creates a chunker. chunkOverlap must be smaller than chunkSize so
// that every window advances.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, &backend.ConfigurationError{Message: fmt.Sprintf("chunk_size must be positive, got %d", chunkSize)}
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, &backend.ConfigurationError{
			Message: fmt.Sprintf("chunk_overlap (%d) must be in [0, chunk_size=%d)", chunkOverlap, chunkSize),
		}
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Preprocess normalizes text for chunking (collapse whitespace, trim).
func Preprocess(text string) string {
	return utils.CollapseWhitespace(text)
}

// Chunk returns the non-empty chunks of text in order. Empty input yields nil.
func (c *Chunker) Chunk(text string) []string {
	runes := []rune(Preprocess(text))
	spans := c.spans(runes)
	if len(spans) == 0 {
		return nil
	}
	chunks := make([]string, 0, len(spans))
	for _, s := range spans {
		if chunk := strings.TrimSpace(string(runes[s.start:s.end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func (c *Chunker) spans(runes []rune) []span {
	n := len(runes)
	if n == 0 {
		return nil
	}
	if n <= c.chunkSize {
		return []span{{0, n}}
	}
	var out []span
	start := 0
	for start < n {
		end := start + c.chunkSize
		if end >= n {
			end = n
		} else {
			searchStart := end - c.chunkSize/5
			if searchStart < start {
				searchStart = start
			}
			if cut := lastSentenceEnd(runes, searchStart, end); cut > start {
				end = cut
			}
		}
		out = append(out, span{start, end})
		if end >= n {
			break
		}
		next := end - c.chunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// lastSentenceEnd returns the index just past the last '.', '!' or '?' in
// runes[from:to] that is followed by whitespace inside the window, or -1.
func lastSentenceEnd(runes []rune, from, to int) int {
	for p := to - 2; p >= from; p-- {
		switch runes[p] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[p+1]) {
				return p + 1
			}
		}
	}
	return -1
}
