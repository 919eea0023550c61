package models

// SearchResult represents a single ranked chunk with its scores.
type SearchResult struct {
	Chunk         *Chunk  `json:"chunk"`
	Preview       string  `json:"preview,omitempty"` // one-line excerpt of the chunk text
	Score         float64 `json:"score"`
	KeywordScore  float64 `json:"keyword_score"`
	SemanticScore float64 `json:"semantic_score"`
	Rank          int     `json:"rank"`
}

// SearchResponse is the response for a search request. Results holds at most
// TopK entries; Total is the number of candidate chunks that matched.
type SearchResponse struct {
	Query     string          `json:"query"`
	Index     string          `json:"index,omitempty"`
	Mode      SearchMode      `json:"mode"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
}
