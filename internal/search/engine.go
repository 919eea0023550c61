// Package search ranks chunks of one index by keyword, semantic or hybrid
// relevance.
package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/ragcli/internal/catalog"
	"github.com/hyperjump/ragcli/internal/config"
	"github.com/hyperjump/ragcli/internal/embedding"
	"github.com/hyperjump/ragcli/internal/keyword"
	"github.com/hyperjump/ragcli/internal/models"
	"github.com/hyperjump/ragcli/internal/storage"
	"github.com/hyperjump/ragcli/internal/vector"
	"github.com/hyperjump/ragcli/pkg/utils"
)

// Engine runs semantic, keyword and hybrid search over one index.
type Engine struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	config       *config.SearchConfig
	index        string
}

// NewEngine creates a search engine with the given dependencies. embedder may
// be nil when only keyword search or SearchWithEmbedding is used.
func NewEngine(
	storage storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	keywordIndex keyword.KeywordIndex,
	cfg *config.SearchConfig,
) *Engine {
	return &Engine{
		storage:      storage,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		config:       cfg,
	}
}

// ForIndex creates a search engine over a catalog index.
func ForIndex(idx *catalog.Index, embedder embedding.Embedder, cfg *config.SearchConfig) *Engine {
	e := NewEngine(idx.Storage(), embedder, idx.Vectors(), idx.Keywords(), cfg)
	e.index = idx.Name()
	return e
}

// Search embeds the query (unless the mode is keyword) and ranks chunks.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	return e.search(ctx, query, nil)
}

// SearchWithEmbedding ranks chunks using a precomputed query vector instead
// of embedding the query text. The vector may be nil for keyword search.
func (e *Engine) SearchWithEmbedding(ctx context.Context, query *models.SearchQuery, queryEmbedding []float32) (*models.SearchResponse, error) {
	return e.search(ctx, query, queryEmbedding)
}

func (e *Engine) search(ctx context.Context, query *models.SearchQuery, queryEmbedding []float32) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query, e.config); err != nil {
		return nil, err
	}
	keywordWeight, semanticWeight := query.Weights()
	if query.Mode.NeedsEmbedding() && semanticWeight > 0 && queryEmbedding == nil && e.embedder == nil {
		return nil, fmt.Errorf("%w: %s search needs an embedder", models.ErrModelUnavailable, query.Mode)
	}

	candidates := query.TopK
	if e.config != nil && e.config.TopKCandidates > candidates {
		candidates = e.config.TopKCandidates
	}

	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []*vector.VectorResult
		errChan         = make(chan error, 2)
		wg              sync.WaitGroup
	)

	if keywordWeight > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opts := &keyword.SearchOptions{Fuzzy: query.Fuzzy, Filename: query.Filename}
			if e.config != nil {
				opts.FilenameBoost = e.config.FilenameBoost
				opts.PhraseBoost = e.config.PhraseBoost
			}
			results, err := e.keywordIndex.Search(ctx, query.Query, candidates, opts)
			if err != nil {
				errChan <- fmt.Errorf("keyword search failed: %w", err)
				return
			}
			keywordResults = results
		}()
	}

	if semanticWeight > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec := queryEmbedding
			if vec == nil {
				var err error
				vec, err = e.embedder.Embed(ctx, query.Query)
				if err != nil {
					errChan <- fmt.Errorf("embed query: %w", err)
					return
				}
			}
			k := candidates
			if query.Filename != "" {
				// Other documents' chunks are filtered out afterwards.
				k = max(k, e.vectorIndex.Size())
			}
			results, err := e.vectorIndex.Search(ctx, vec, k)
			if err != nil {
				errChan <- fmt.Errorf("vector search failed: %w", err)
				return
			}
			semanticResults = results
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	fused := Fuse(NormalizeKeywordScores(keywordResults), NormalizeSemanticScores(semanticResults),
		keywordWeight, semanticWeight)

	ids := make([]string, len(fused))
	for i, r := range fused {
		ids[i] = r.ChunkID
	}
	chunks, err := e.storage.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}

	response := &models.SearchResponse{
		Query:   query.Query,
		Index:   e.index,
		Mode:    query.Mode,
		Results: make([]*models.SearchResult, 0, min(query.TopK, len(fused))),
	}
	for _, r := range fused {
		chunk, ok := chunks[r.ChunkID]
		if !ok || (query.Filename != "" && chunk.Filename != query.Filename) {
			continue
		}
		response.Total++
		if len(response.Results) == query.TopK {
			continue
		}
		chunk.Embedding = nil
		response.Results = append(response.Results, &models.SearchResult{
			Chunk:         chunk,
			Preview:       Highlight(utils.OneLine(chunk.Text), PreviewLength),
			Score:         r.Score,
			KeywordScore:  r.KeywordScore,
			SemanticScore: r.SemanticScore,
			Rank:          len(response.Results) + 1,
		})
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	return response, nil
}
