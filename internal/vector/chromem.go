package vector

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

const chromemCollection = "chunks"

// errNoEmbeddingFunc is returned if chromem is ever asked to embed text
// itself; all vectors are computed by the embedding package.
var errNoEmbeddingFunc = errors.New("chromem collection only accepts precomputed embeddings")

// ChromemIndex stores vectors in a persistent chromem-go database. Every
// write goes straight to disk.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimensions int
	mu         sync.RWMutex
}

// OpenChromemIndex opens or creates a chromem database in dir.
func OpenChromemIndex(dimensions int, dir string) (*ChromemIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	noEmbed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbeddingFunc }
	col, err := db.GetOrCreateCollection(chromemCollection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection: %w", err)
	}
	return &ChromemIndex{db: db, collection: col, dimensions: dimensions}, nil
}

// Add upserts vectors.
func (c *ChromemIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if err := checkBatch(ids, vectors, c.dimensions); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		docs[i] = chromem.Document{ID: id, Embedding: vec}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem add: %w", err)
	}
	return nil
}

// Search returns the k most similar vectors.
func (c *ChromemIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := checkDims(len(query), c.dimensions); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	// chromem rejects nResults larger than the collection.
	k = min(k, c.collection.Count())
	if k <= 0 {
		return nil, nil
	}
	res, err := c.collection.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	out := make([]*VectorResult, len(res))
	for i, r := range res {
		out[i] = &VectorResult{ID: r.ID, Score: float64(r.Similarity)}
	}
	return out, nil
}

// Remove deletes vectors by ID.
func (c *ChromemIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	return nil
}

// Size returns the number of stored vectors.
func (c *ChromemIndex) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collection.Count()
}

// Dimensions returns the vector dimension.
func (c *ChromemIndex) Dimensions() int {
	return c.dimensions
}

// Flush is a no-op; chromem persists on every write.
func (c *ChromemIndex) Flush() error {
	return nil
}

// Close is a no-op; chromem keeps no open file handles.
func (c *ChromemIndex) Close() error {
	return nil
}
