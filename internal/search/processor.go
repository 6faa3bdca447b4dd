package search

import (
	"fmt"

	"github.com/hyperjump/pravo/internal/config"
	"github.com/hyperjump/pravo/internal/models"
)

// ProcessQuery applies configured defaults to the query and validates it.
// Invalid queries are reported as models.ErrData.
func ProcessQuery(query *models.SearchQuery, cfg *config.SearchConfig) error {
	if query.TopK <= 0 && cfg.TopK > 0 {
		query.TopK = cfg.TopK
	}
	if err := query.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrData, err)
	}
	if cfg.MaxTopK > 0 && query.TopK > cfg.MaxTopK {
		query.TopK = cfg.MaxTopK
	}
	if query.Threshold == nil {
		t := cfg.Threshold()
		query.Threshold = &t
	}
	return nil
}
