// Package models defines core data structures for documents, chunks, queries, and search results.
package models

import "time"

// Document represents an ingested source file. Within one index a document is
// identified by its filename.
type Document struct {
	ID          string                 `json:"id" db:"id"`
	Filename    string                 `json:"filename" db:"filename"`
	SourcePath  string                 `json:"source_path,omitempty" db:"source_path"`
	StoredPath  string                 `json:"stored_path,omitempty" db:"stored_path"`
	SizeBytes   int64                  `json:"size_bytes" db:"size_bytes"`
	ContentHash string                 `json:"content_hash" db:"content_hash"`
	TotalChunks int                    `json:"total_chunks" db:"total_chunks"`
	Content     string                 `json:"-" db:"content"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	UploadedAt  time.Time              `json:"uploaded_at" db:"uploaded_at"`
	UpdatedAt   time.Time              `json:"updated_at" db:"updated_at"`
}

// Chunk is a contiguous span [Start, End) of a document's extracted text,
// measured in characters (runes).
type Chunk struct {
	ID          string    `json:"id" db:"id"`
	DocumentID  string    `json:"document_id" db:"document_id"`
	Filename    string    `json:"filename" db:"filename"`
	Ordinal     int       `json:"chunk_id" db:"ordinal"`
	TotalChunks int       `json:"total_chunks" db:"total_chunks"`
	Text        string    `json:"text" db:"text"`
	Start       int       `json:"start" db:"start_offset"`
	End         int       `json:"end" db:"end_offset"`
	Source      string    `json:"source" db:"source"`
	Embedding   []float32 `json:"-" db:"-"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Len returns the number of characters the chunk spans.
func (c *Chunk) Len() int {
	return c.End - c.Start
}

// IngestResult reports the outcome of ingesting one file.
type IngestResult struct {
	Path     string    `json:"path"`
	Document *Document `json:"document,omitempty"`
	Chunks   int       `json:"chunks"`
	Skipped  bool      `json:"skipped,omitempty"`
	Err      error     `json:"-"`
	Error    string    `json:"error,omitempty"`
}

// IndexStats summarises one index.
type IndexStats struct {
	Name           string    `json:"name"`
	Documents      int       `json:"documents"`
	Chunks         int       `json:"chunks"`
	Vectors        int       `json:"vectors"`
	Dimensions     int       `json:"dimensions"`
	VectorBackend  string    `json:"vector_backend"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	DiskBytes      int64     `json:"disk_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
