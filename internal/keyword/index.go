// Package keyword provides BM25 keyword search over chunk text and filenames.
package keyword

import (
	"context"

	"github.com/hyperjump/ragcli/internal/models"
)

// SearchOptions tune keyword search. Nil means plain BM25 over text and filename.
type SearchOptions struct {
	// FilenameBoost multiplies the contribution of filename matches (e.g. 2.0).
	// Values <= 1 disable the separate filename pass.
	FilenameBoost float64
	// PhraseBoost multiplies the score of chunks containing the query as a phrase (e.g. 1.5).
	PhraseBoost float64
	// Fuzzy enables typo-tolerant matching.
	Fuzzy bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2, default 1).
	Fuzziness int
	// Filename restricts results to chunks of one document.
	Filename string
}

// KeywordIndex indexes chunks for keyword search.
type KeywordIndex interface {
	// Index adds or replaces chunks in one batch.
	Index(ctx context.Context, chunks []*models.Chunk) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, ids []string) error
	// DocCount returns the number of indexed chunks.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit; ID is a chunk ID.
type KeywordResult struct {
	ID    string
	Score float64
}
