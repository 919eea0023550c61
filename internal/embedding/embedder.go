// Package embedding turns text into fixed-dimension, unit-length vectors.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/ragcli/internal/config"
	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text. Every returned vector has
// Dimensions() entries and unit L2 norm.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// New builds the embedder selected by cfg.Provider.
func New(cfg config.EmbeddingConfig, srv config.OllamaConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "", "ollama":
		e, err := NewOllamaEmbedder(OllamaOptions{
			URL:        srv.URL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			CacheSize:  cfg.CacheSize,
			Timeout:    time.Duration(srv.TimeoutSeconds) * time.Second,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case "onnx":
		if cfg.ModelPath == "" {
			return nil, fmt.Errorf("onnx provider requires embedding.model_path")
		}
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}
