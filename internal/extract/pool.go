package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hyperjump/pravo/internal/fileid"
	"github.com/hyperjump/pravo/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sink receives extracted records. Implementations must be safe for concurrent use.
type Sink interface {
	Write(v interface{}) error
}

// Pool extracts files with a bounded number of workers.
type Pool struct {
	extractor     *Extractor
	workers       int
	progressEvery int
	logger        *zap.Logger // optional
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets a logger for progress output.
func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithProgressEvery logs progress every n files.
func WithProgressEvery(n int) PoolOption {
	return func(p *Pool) { p.progressEvery = n }
}

// NewPool returns a pool running at most workers extractions at a time.
func NewPool(extractor *Extractor, workers int, opts ...PoolOption) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{extractor: extractor, workers: workers, progressEvery: 100}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run extracts every path and writes one record per extractable file to sink.
// Documents that need OCR or failed to parse are written too (downstream stages skip
// them) but counted as skipped. Unsupported files produce no record. Only a sink
// failure or cancellation stops the run.
func (p *Pool) Run(ctx context.Context, paths []string, sink Sink, tally *models.Tally) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	started := time.Now()
	var done int64
	progress := make(chan struct{}, p.workers)
	go func() {
		for range progress {
			done++
			if p.logger != nil && p.progressEvery > 0 && done%int64(p.progressEvery) == 0 {
				p.logger.Info("extract progress",
					zap.Int64("count", done),
					zap.Int("total", len(paths)),
					zap.Duration("elapsed", time.Since(started)))
			}
		}
	}()
	defer close(progress)

	for _, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() { progress <- struct{}{} }()
			return p.extractOne(gctx, path, sink, tally)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Pool) extractOne(ctx context.Context, path string, sink Sink, tally *models.Tally) error {
	rec, err := p.extractor.Extract(ctx, path)
	if err != nil {
		if IsUnsupported(err) {
			absPath, _ := filepath.Abs(path)
			tally.Skip(fileid.DocID(absPath), err.Error())
			if p.logger != nil {
				p.logger.Warn("unsupported file", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		return err
	}
	if err := sink.Write(rec); err != nil {
		return &models.StageError{Stage: "extract", Err: fmt.Errorf("write record %s: %w", rec.DocID, err)}
	}
	doc := rec.Metadata
	switch {
	case doc.ExtractError() != "":
		tally.Skip(doc.ID, doc.ExtractError())
	case doc.NeedsOCR:
		tally.Skip(doc.ID, "needs OCR")
	default:
		tally.Succeed(1)
	}
	return nil
}
