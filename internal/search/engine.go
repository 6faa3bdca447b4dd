// Package search runs top-K semantic retrieval over stored chunks.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/pravo/internal/config"
	"github.com/hyperjump/pravo/internal/embedding"
	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/storage"
)

// Engine answers similarity queries. Text queries are embedded through the
// given embedder, normally an embedding.CachedEmbedder.
type Engine struct {
	storage  storage.Storage
	embedder embedding.Embedder
	config   *config.SearchConfig
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(store storage.Storage, embedder embedding.Embedder, cfg *config.SearchConfig, opts ...Option) *Engine {
	e := &Engine{
		storage:  store,
		embedder: embedder,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Search returns up to TopK chunks ranked by cosine similarity. Hits below the
// threshold are dropped after retrieval, so an empty response is not an error.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query, e.config); err != nil {
		return nil, err
	}

	vec := query.Vector
	if len(vec) == 0 {
		var err error
		vec, err = embedding.Embed(ctx, e.embedder, query.Query)
		if err != nil {
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
	}

	hits, err := e.storage.SearchSimilar(ctx, vec, storage.SearchOptions{
		TopK:          query.TopK,
		DocID:         query.DocID,
		SectionPrefix: query.SectionPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	threshold := *query.Threshold
	hits = FilterByThreshold(hits, threshold)
	SortHits(hits)

	response := &models.SearchResponse{
		Results:   make([]*models.SearchResult, 0, len(hits)),
		Total:     len(hits),
		Query:     query.Query,
		TopK:      query.TopK,
		Threshold: threshold,
	}
	docs := make(map[string]*models.Document)
	for i, h := range hits {
		result := &models.SearchResult{Chunk: h.Chunk, Score: h.Score, Rank: i + 1}
		doc, ok := docs[h.Chunk.DocumentID]
		if !ok {
			doc, err = e.storage.GetDocument(ctx, h.Chunk.DocumentID)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("load document %s: %w", h.Chunk.DocumentID, err)
			}
			docs[h.Chunk.DocumentID] = doc
		}
		if doc != nil {
			result.Title = doc.Title
			result.ActNumber = doc.ActNumber
			result.Date = doc.Date
			result.Authority = doc.Authority
			result.URL = doc.URL
		}
		response.Results = append(response.Results, result)
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	e.logger.Debug("search completed",
		zap.String("query", query.Query),
		zap.Int("top_k", query.TopK),
		zap.Int("results", len(response.Results)),
		zap.Int64("elapsed_ms", response.QueryTime))
	return response, nil
}
