package search

import (
	"github.com/hyperjump/ragcli/internal/config"
	"github.com/hyperjump/ragcli/internal/models"
)

// ProcessQuery fills unset query fields from cfg, then validates the query.
// cfg may be nil.
func ProcessQuery(query *models.SearchQuery, cfg *config.SearchConfig) error {
	if cfg != nil {
		if query.TopK <= 0 {
			query.TopK = cfg.TopK
		}
		if cfg.MaxTopK > 0 && query.TopK > cfg.MaxTopK {
			query.TopK = cfg.MaxTopK
		}
		if query.Mode == "" {
			query.Mode = models.SearchMode(cfg.Mode)
		}
		if query.KeywordWeight == 0 && query.SemanticWeight == 0 {
			query.KeywordWeight = cfg.KeywordWeight
			query.SemanticWeight = cfg.SemanticWeight
		}
	}
	return query.Validate()
}
