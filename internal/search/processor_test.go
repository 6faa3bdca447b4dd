package search

import (
	"testing"

	"github.com/hyperjump/pravo/internal/config"
	"github.com/hyperjump/pravo/internal/models"
)

func TestProcessQuery_topKLimit(t *testing.T) {
	tests := []struct {
		name    string
		maxTopK int
		topK    int
		want    int
	}{
		{"configured default", 500, 0, 10},
		{"above 100 within limit", 500, 300, 300},
		{"capped at configured limit", 500, 1000, 500},
		{"lower configured limit", 20, 50, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.SearchConfig{TopK: 10, MaxTopK: tt.maxTopK}
			q := &models.SearchQuery{Query: "право на освіту", TopK: tt.topK}
			if err := ProcessQuery(q, cfg); err != nil {
				t.Fatal(err)
			}
			if q.TopK != tt.want {
				t.Errorf("TopK = %d, want %d", q.TopK, tt.want)
			}
			if q.Threshold == nil || *q.Threshold != 0.7 {
				t.Errorf("threshold = %v, want the default", q.Threshold)
			}
		})
	}
}
