// Package vector stores chunk embeddings and answers nearest-neighbour queries.
package vector

import "context"

// VectorIndex stores one unit-length vector per chunk ID.
type VectorIndex interface {
	// Add inserts vectors, replacing any existing vector with the same ID.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns at most k results ordered by descending score.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Size() int
	Dimensions() int
	// Flush persists pending changes. Backends that write through are no-ops.
	Flush() error
	Close() error
}

// VectorResult is a single vector search hit; ID is a chunk ID.
type VectorResult struct {
	ID    string
	Score float64 // cosine similarity, in [-1, 1] for unit vectors
}
