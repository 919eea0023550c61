// Package storage persists documents, chunks and index metadata.
package storage

import (
	"context"

	"github.com/hyperjump/ragcli/internal/models"
)

// Storage defines document and chunk persistence for one index. Document
// filenames are unique within a store.
type Storage interface {
	// PutDocument stores doc and its chunks in one transaction, replacing any
	// document with the same ID.
	PutDocument(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByFilename(ctx context.Context, filename string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	// DeleteDocument removes a document with its chunks and returns the IDs
	// of the removed chunks.
	DeleteDocument(ctx context.Context, id string) ([]string, error)

	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	// AllChunks calls fn for every stored chunk, embeddings included.
	AllChunks(ctx context.Context, fn func(*models.Chunk) error) error

	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	// Index-level key/value metadata (dimensions, backend, model, ...).
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error

	Close() error
}
