package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/hyperjump/ragcli/internal/vector"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// DefaultIndexName is the index used when none is given.
const DefaultIndexName = "rag_index"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "~/.ragcli"
	}
	if cfg.Index.Default == "" {
		cfg.Index.Default = DefaultIndexName
	}
	if cfg.Index.VectorBackend == "" {
		cfg.Index.VectorBackend = vector.BackendMemory
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 512
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 50
	}
	if cfg.Ingest.Strategy == "" {
		cfg.Ingest.Strategy = "fixed"
	}
	if cfg.Ingest.UploadDir == "" {
		cfg.Ingest.UploadDir = "~/.ragcli/uploaded_files"
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".pdf", ".txt", ".md", ".docx", ".odt", ".rtf", ".xlsx"}
	}
	if cfg.Ingest.OCR.Language == "" {
		cfg.Ingest.OCR.Language = "eng"
	}
	if cfg.Ingest.OCR.DPI == 0 {
		cfg.Ingest.OCR.DPI = 300
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = "http://localhost:11434"
	}
	if cfg.Ollama.TimeoutSeconds == 0 {
		cfg.Ollama.TimeoutSeconds = 300
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "llama3.2"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.SystemPrompt == "" {
		cfg.LLM.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.LLM.HistoryLimit == 0 {
		cfg.LLM.HistoryLimit = 20
	}
	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 5
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.Mode == "" {
		cfg.Search.Mode = "hybrid"
	}
	if cfg.Search.TopKCandidates == 0 {
		cfg.Search.TopKCandidates = 50
	}
	if cfg.Search.KeywordWeight == 0 && cfg.Search.SemanticWeight == 0 {
		cfg.Search.KeywordWeight = 0.3
		cfg.Search.SemanticWeight = 0.7
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Watch.DebounceMillis == 0 {
		cfg.Watch.DebounceMillis = 400
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}

// DefaultSystemPrompt instructs the model to stay grounded in retrieved context.
const DefaultSystemPrompt = `You are a helpful assistant that answers questions about the user's documents.
Use the provided context when it is relevant and say so when the context does not contain the answer.
Cite sources by file name when you use them.`

var indexNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidIndexName reports whether name can be used as an index name.
func ValidIndexName(name string) bool {
	return indexNameRe.MatchString(name)
}

// Validate checks invariants that ApplyDefaults cannot repair.
func (c *Config) Validate() error {
	in := c.Ingest
	if in.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, in.ChunkSize)
	}
	if in.ChunkOverlap < 0 || in.ChunkOverlap >= in.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d with chunk_size %d",
			ErrInvalidConfig, in.ChunkOverlap, in.ChunkSize)
	}
	switch in.Strategy {
	case "fixed", "recursive":
	default:
		return fmt.Errorf("%w: unknown ingest strategy %q", ErrInvalidConfig, in.Strategy)
	}
	if !slices.Contains(vector.Backends(), c.Index.VectorBackend) {
		return fmt.Errorf("%w: unknown vector backend %q (supported: %s)",
			ErrInvalidConfig, c.Index.VectorBackend, strings.Join(vector.Backends(), ", "))
	}
	if !ValidIndexName(c.Index.Default) {
		return fmt.Errorf("%w: invalid index name %q", ErrInvalidConfig, c.Index.Default)
	}
	switch c.Embedding.Provider {
	case "ollama", "onnx", "mock":
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding dimensions must be positive", ErrInvalidConfig)
	}
	switch c.Search.Mode {
	case "semantic", "keyword", "hybrid":
	default:
		return fmt.Errorf("%w: unknown search mode %q", ErrInvalidConfig, c.Search.Mode)
	}
	if c.Search.KeywordWeight < 0 || c.Search.SemanticWeight < 0 {
		return fmt.Errorf("%w: search weights must not be negative", ErrInvalidConfig)
	}
	if c.Search.TopK <= 0 || c.Search.TopK > c.Search.MaxTopK {
		return fmt.Errorf("%w: top_k must be in [1, %d]", ErrInvalidConfig, c.Search.MaxTopK)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be in [0, 2], got %g", ErrInvalidConfig, c.LLM.Temperature)
	}
	return nil
}
