// Package indexer splits extracted text into chunks and writes them to an index.
package indexer

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/ragcli/internal/fileid"
	"github.com/hyperjump/ragcli/internal/models"
	"github.com/tmc/langchaingo/textsplitter"
)

// Span is a piece of text with character (rune) offsets [Start, End) into the
// text it was cut from.
type Span struct {
	Start int
	End   int
	Text  string
}

// Splitter cuts text into ordered spans.
type Splitter interface {
	Split(text string) ([]Span, error)
}

func validateChunking(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrInvalidChunking, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", models.ErrInvalidChunking, overlap, size)
	}
	return nil
}

// Chunker splits text into fixed-size character windows. Consecutive windows
// share exactly overlap characters and together cover the whole text.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in characters).
// Overlap must be smaller than size, otherwise the window would never advance.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if err := validateChunking(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Split returns windows starting at 0, size-overlap, 2*(size-overlap), ...
// The last window ends at the end of the text.
func (c *Chunker) Split(text string) ([]Span, error) {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}
	step := c.chunkSize - c.chunkOverlap
	spans := make([]Span, 0, n/step+1)
	for start := 0; ; start += step {
		end := start + c.chunkSize
		if end > n {
			end = n
		}
		spans = append(spans, Span{Start: start, End: end, Text: string(runes[start:end])})
		if end == n {
			break
		}
	}
	return spans, nil
}

// RecursiveChunker splits on paragraph, line and word boundaries using
// langchaingo's recursive character splitter, keeping pieces under the chunk
// size. Offsets are recovered by locating each piece in the source text.
type RecursiveChunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewRecursiveChunker creates a boundary-aware chunker with the given size and overlap.
func NewRecursiveChunker(chunkSize, chunkOverlap int) (*RecursiveChunker, error) {
	if err := validateChunking(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	return &RecursiveChunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}, nil
}

// Split returns the splitter's pieces with their offsets.
func (r *RecursiveChunker) Split(text string) ([]Span, error) {
	if text == "" {
		return nil, nil
	}
	pieces, err := r.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	spans := make([]Span, 0, len(pieces))
	from := 0      // byte offset where the search for the next piece starts
	lastStart := 0 // rune offset of the previous piece
	for _, p := range pieces {
		if p == "" {
			continue
		}
		start := lastStart
		if i := strings.Index(text[from:], p); i >= 0 {
			b := from + i
			start = utf8.RuneCountInString(text[:b])
			from = b + 1
			for from < len(text) && !utf8.RuneStart(text[from]) {
				from++
			}
		}
		spans = append(spans, Span{Start: start, End: start + utf8.RuneCountInString(p), Text: p})
		lastStart = start
	}
	return spans, nil
}

// NewSplitter returns the splitter for a strategy name ("fixed" or "recursive").
func NewSplitter(strategy string, chunkSize, chunkOverlap int) (Splitter, error) {
	switch strategy {
	case "", "fixed":
		c, err := NewChunker(chunkSize, chunkOverlap)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "recursive":
		r, err := NewRecursiveChunker(chunkSize, chunkOverlap)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown chunking strategy %q", strategy)
}

// BuildChunks turns spans into chunks of doc with stable IDs.
func BuildChunks(doc *models.Document, spans []Span) []*models.Chunk {
	now := time.Now().UTC()
	chunks := make([]*models.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = &models.Chunk{
			ID:          fileid.ChunkID(doc.ID, i),
			DocumentID:  doc.ID,
			Filename:    doc.Filename,
			Ordinal:     i,
			TotalChunks: len(spans),
			Text:        s.Text,
			Start:       s.Start,
			End:         s.End,
			Source:      doc.SourcePath,
			CreatedAt:   now,
		}
	}
	return chunks
}
