// Package chunker splits document text into bounded overlapping segments.
//
// Chunking is deterministic: identical input and parameters always yield
// the identical sequence. The sequence is lazy and restartable (iter.Seq2),
// covers the normalized input end to end with no gaps, and each chunk
// after the first begins with the last overlap runes of its predecessor.
package chunker

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrInvalidChunking indicates invalid size/overlap parameters.
var ErrInvalidChunking = errors.New("invalid chunking parameters")

// Chunk is one bounded segment of a document's text.
type Chunk struct {
	// Index is the zero-based position of the chunk in the document.
	Index int

	// Text is the chunk content.
	Text string
}

// Chunker splits text into fixed-size rune windows with overlap.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker. Size and overlap are rune counts; size must be
// positive and overlap must be non-negative and strictly less than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidChunking, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be in [0, size), got %d", ErrInvalidChunking, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Normalize collapses all whitespace runs to single spaces and trims the
// ends. Chunk boundaries are computed over the normalized text so that
// chunking is insensitive to the input's line-wrapping.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Chunks returns a lazy, restartable sequence of (index, text) pairs
// covering the normalized text. Empty or whitespace-only input yields an
// empty sequence; callers must treat zero chunks as an ingestion failure.
func (c *Chunker) Chunks(text string) iter.Seq2[int, string] {
	runes := []rune(Normalize(text))
	step := c.size - c.overlap

	return func(yield func(int, string) bool) {
		idx := 0
		for start := 0; start < len(runes); start += step {
			end := start + c.size
			if end > len(runes) {
				end = len(runes)
			}
			if !yield(idx, string(runes[start:end])) {
				return
			}
			if end == len(runes) {
				return
			}
			idx++
		}
	}
}

// Split materializes the chunk sequence.
func (c *Chunker) Split(text string) []Chunk {
	var chunks []Chunk
	for i, s := range c.Chunks(text) {
		chunks = append(chunks, Chunk{Index: i, Text: s})
	}
	return chunks
}

// Size returns the configured chunk size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }
