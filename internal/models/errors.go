package models

import "errors"

// Error classes shared by all components. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// Extraction failures abort only the affected document.
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtraction        = errors.New("extraction failed")

	// Model and connectivity failures.
	ErrModelUnavailable = errors.New("embedding model unavailable")
	ErrLLMUnavailable   = errors.New("llm unavailable")
	ErrConnection       = errors.New("connection failed")

	// Store failures.
	ErrIndexNotFound     = errors.New("index not found")
	ErrInvalidIndexName  = errors.New("invalid index name")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrDocumentNotFound  = errors.New("document not found")

	// User errors.
	ErrInvalidChunking = errors.New("invalid chunking parameters")
	ErrEmptyQuery      = errors.New("query cannot be empty")
	ErrInvalidMode     = errors.New("invalid search mode")
)
