package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hyperjump/ragcli/internal/models"
	"github.com/hyperjump/ragcli/pkg/utils"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
)

// OllamaOptions configures an OllamaEmbedder.
type OllamaOptions struct {
	URL        string
	Model      string
	Dimensions int
	BatchSize  int
	CacheSize  int
	Timeout    time.Duration
	Logger     *zap.Logger
}

// OllamaEmbedder embeds text with an embedding model served by a local Ollama
// runtime. Results are normalized, checked against the expected dimension and
// cached by text.
type OllamaEmbedder struct {
	embedder   embeddings.Embedder
	model      string
	dimensions int
	cache      *EmbeddingCache
	logger     *zap.Logger
}

// NewOllamaEmbedder connects lazily; the first Embed call reports an
// unreachable runtime.
func NewOllamaEmbedder(opts OllamaOptions) (*OllamaEmbedder, error) {
	clientOpts := []ollama.Option{
		ollama.WithServerURL(opts.URL),
		ollama.WithModel(opts.Model),
	}
	if opts.Timeout > 0 {
		clientOpts = append(clientOpts, ollama.WithHTTPClient(&http.Client{Timeout: opts.Timeout}))
	}
	client, err := ollama.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrModelUnavailable, err)
	}
	return newOllamaEmbedder(client, opts)
}

func newOllamaEmbedder(client embeddings.EmbedderClient, opts OllamaOptions) (*OllamaEmbedder, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", opts.Dimensions)
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 32
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(batch))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrModelUnavailable, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaEmbedder{
		embedder:   emb,
		model:      opts.Model,
		dimensions: opts.Dimensions,
		cache:      NewEmbeddingCache(opts.CacheSize),
		logger:     logger,
	}, nil
}

// Embed returns the embedding for a query text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return v, nil
	}
	v, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, e.wrap(ctx, err)
	}
	if err := e.check(v); err != nil {
		return nil, err
	}
	utils.NormalizeL2(v)
	e.cache.Set(text, v)
	return v, nil
}

// EmbedBatch embeds texts in batches, reusing cached vectors. The result has
// one vector per input, in input order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := e.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	start := time.Now()
	vecs, err := e.embedder.EmbedDocuments(ctx, missing)
	if err != nil {
		return nil, e.wrap(ctx, err)
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("%w: model %s returned %d embeddings for %d texts",
			models.ErrModelUnavailable, e.model, len(vecs), len(missing))
	}
	for j, v := range vecs {
		if err := e.check(v); err != nil {
			return nil, err
		}
		utils.NormalizeL2(v)
		e.cache.Set(missing[j], v)
		out[missingIdx[j]] = v
	}
	e.logger.Debug("embedded batch",
		zap.String("model", e.model),
		zap.Int("texts", len(texts)),
		zap.Int("cached", len(texts)-len(missing)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// Dimensions returns the expected embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client holds no resources worth releasing.
func (e *OllamaEmbedder) Close() error {
	return nil
}

func (e *OllamaEmbedder) check(v []float32) error {
	if len(v) != e.dimensions {
		return fmt.Errorf("%w: %w: model %s returned %d dimensions, expected %d",
			models.ErrModelUnavailable, models.ErrDimensionMismatch, e.model, len(v), e.dimensions)
	}
	return nil
}

func (e *OllamaEmbedder) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	if utils.IsConnectionError(err) {
		return fmt.Errorf("%w: %w: %w", models.ErrModelUnavailable, models.ErrConnection, err)
	}
	return fmt.Errorf("%w: model %s: %w", models.ErrModelUnavailable, e.model, err)
}
