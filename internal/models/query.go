package models

import (
	"fmt"
	"strings"
)

// SearchMode selects which relevance signals a search uses.
type SearchMode string

const (
	ModeSemantic SearchMode = "semantic"
	ModeKeyword  SearchMode = "keyword"
	ModeHybrid   SearchMode = "hybrid"
)

// ParseSearchMode parses a mode name case-insensitively. Empty means hybrid.
func ParseSearchMode(s string) (SearchMode, error) {
	switch SearchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeHybrid:
		return ModeHybrid, nil
	case ModeSemantic:
		return ModeSemantic, nil
	case ModeKeyword:
		return ModeKeyword, nil
	}
	return "", fmt.Errorf("%w: %q (want semantic, keyword or hybrid)", ErrInvalidMode, s)
}

// NeedsEmbedding reports whether the mode uses vector similarity.
func (m SearchMode) NeedsEmbedding() bool {
	return m != ModeKeyword
}

// DefaultTopK and MaxTopK bound the number of results a query returns.
const (
	DefaultTopK = 5
	MaxTopK     = 100
)

// SearchQuery represents a search request against one index.
type SearchQuery struct {
	Query          string     `json:"query"`
	TopK           int        `json:"top_k,omitempty"`
	Mode           SearchMode `json:"mode,omitempty"`
	KeywordWeight  float64    `json:"keyword_weight,omitempty"`
	SemanticWeight float64    `json:"semantic_weight,omitempty"`
	Fuzzy          bool       `json:"fuzzy,omitempty"`    // typo-tolerant keyword matching
	Filename       string     `json:"filename,omitempty"` // restrict to one document
}

// Validate ensures the search query has valid fields and sets defaults.
// Returns an error if the query is empty or the mode is unknown.
func (q *SearchQuery) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return ErrEmptyQuery
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.TopK > MaxTopK {
		q.TopK = MaxTopK
	}
	mode, err := ParseSearchMode(string(q.Mode))
	if err != nil {
		return err
	}
	q.Mode = mode
	if q.KeywordWeight < 0 || q.SemanticWeight < 0 {
		return fmt.Errorf("search weights must not be negative")
	}
	return nil
}

// Weights returns the keyword and semantic weights the mode implies.
// Hybrid uses the query's weights, falling back to 0.5/0.5 when both are zero.
func (q *SearchQuery) Weights() (keyword, semantic float64) {
	switch q.Mode {
	case ModeKeyword:
		return 1, 0
	case ModeSemantic:
		return 0, 1
	}
	if q.KeywordWeight == 0 && q.SemanticWeight == 0 {
		return 0.5, 0.5
	}
	return q.KeywordWeight, q.SemanticWeight
}
