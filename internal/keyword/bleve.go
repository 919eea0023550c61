package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/ragcli/internal/models"
)

// chunkDoc is what bleve stores for each chunk.
type chunkDoc struct {
	Text          string `json:"text"`
	Filename      string `json:"filename"`
	FilenameExact string `json:"filename_exact"`
	DocumentID    string `json:"document_id"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemBleveIndex creates a Bleve index that lives only in memory.
func NewMemBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so "bayes" matches
	// "Bayes" but not "bay".
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", text)
	docMapping.AddFieldMappingsAt("filename", text)

	exact := bleve.NewKeywordFieldMapping()
	exact.IncludeInAll = false
	docMapping.AddFieldMappingsAt("filename_exact", exact)
	docMapping.AddFieldMappingsAt("document_id", exact)

	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// Index adds or replaces chunks in one batch.
func (b *BleveIndex) Index(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, ch := range chunks {
		doc := chunkDoc{
			Text:          ch.Text,
			Filename:      searchableFilename(ch.Filename),
			FilenameExact: ch.Filename,
			DocumentID:    ch.DocumentID,
		}
		if err := batch.Index(ch.ID, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", ch.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.index.Batch(batch)
}

// searchableFilename splits a filename like "company_profile-2021.pdf" into
// words the standard analyzer can match ("company profile 2021 pdf").
func searchableFilename(name string) string {
	return strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)
}

// Search runs a BM25 query over chunk text and filename and returns up to
// limit results, best first. Equal scores are ordered by chunk ID.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	var o SearchOptions
	if opts != nil {
		o = *opts
	}
	if o.Fuzziness <= 0 {
		o.Fuzziness = 1
	}

	var out []*KeywordResult
	var err error
	if o.FilenameBoost <= 1.0 && o.PhraseBoost <= 1.0 {
		out, err = b.searchSingle(ctx, query, limit, o)
	} else {
		out, err = b.searchWithBoosts(ctx, query, limit, o)
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// searchSingle runs one match (or fuzzy) query over all fields.
func (b *BleveIndex) searchSingle(ctx context.Context, query string, limit int, o SearchOptions) ([]*KeywordResult, error) {
	q := b.restrict(b.buildQuery(query, "", o), o.Filename)
	hits, err := b.run(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*KeywordResult, 0, len(hits))
	for id, score := range hits {
		out = append(out, &KeywordResult{ID: id, Score: score})
	}
	return out, nil
}

// searchWithBoosts scores text and filename separately and combines them:
// (text + filename*FilenameBoost) * coverage² * phrase multiplier, where
// coverage is the fraction of query terms the chunk matches.
func (b *BleveIndex) searchWithBoosts(ctx context.Context, query string, limit int, o SearchOptions) ([]*KeywordResult, error) {
	reqSize := max(limit*2, 50)
	terms := tokenizeQuery(query)

	textHits, err := b.run(ctx, b.restrict(b.buildQuery(query, "text", o), o.Filename), reqSize)
	if err != nil {
		return nil, err
	}
	filenameHits := map[string]float64{}
	if o.FilenameBoost > 1.0 {
		filenameHits, err = b.run(ctx, b.restrict(b.buildQuery(query, "filename", o), o.Filename), reqSize)
		if err != nil {
			return nil, err
		}
	}

	coverage := map[string]int{}
	if len(terms) > 1 {
		for _, term := range terms {
			hits, err := b.run(ctx, b.restrict(b.buildQuery(term, "", o), o.Filename), reqSize)
			if err != nil {
				return nil, err
			}
			for id := range hits {
				coverage[id]++
			}
		}
	}

	phrase := map[string]float64{}
	if o.PhraseBoost > 1.0 && len(terms) > 1 {
		pq := bleve.NewMatchPhraseQuery(query)
		pq.SetField("text")
		phrase, err = b.run(ctx, b.restrict(pq, o.Filename), reqSize)
		if err != nil {
			return nil, err
		}
	}

	ids := make(map[string]struct{}, len(textHits)+len(filenameHits))
	for id := range textHits {
		ids[id] = struct{}{}
	}
	for id := range filenameHits {
		ids[id] = struct{}{}
	}

	out := make([]*KeywordResult, 0, len(ids))
	for id := range ids {
		score := textHits[id] + filenameHits[id]*o.FilenameBoost
		if len(terms) > 1 {
			matched := max(coverage[id], 1)
			c := float64(matched) / float64(len(terms))
			score *= c * c
		}
		if _, ok := phrase[id]; ok {
			score *= o.PhraseBoost
		}
		out = append(out, &KeywordResult{ID: id, Score: score})
	}
	return out, nil
}

func (b *BleveIndex) run(ctx context.Context, q blevequery.Query, size int) (map[string]float64, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}
	hits := make(map[string]float64, len(res.Hits))
	for _, h := range res.Hits {
		hits[h.ID] = h.Score
	}
	return hits, nil
}

// restrict limits q to chunks of one file when filename is set.
func (b *BleveIndex) restrict(q blevequery.Query, filename string) blevequery.Query {
	if filename == "" {
		return q
	}
	tq := bleve.NewTermQuery(filename)
	tq.SetField("filename_exact")
	return bleve.NewConjunctionQuery(q, tq)
}

// buildQuery returns a match query, or a disjunction of fuzzy term queries
// when fuzzy matching is on. An empty field searches all fields.
func (b *BleveIndex) buildQuery(query, field string, o SearchOptions) blevequery.Query {
	terms := tokenizeQuery(query)
	if !o.Fuzzy || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(o.Fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Delete removes chunks from the index.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
