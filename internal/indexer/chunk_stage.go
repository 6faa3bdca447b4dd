package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/ndjson"
)

// DocsPath returns the documents sidecar written next to a chunk file:
// chunks.ndjson becomes chunks.docs.ndjson.
func DocsPath(chunksPath string) string {
	ext := filepath.Ext(chunksPath)
	return strings.TrimSuffix(chunksPath, ext) + ".docs.ndjson"
}

// StageOption configures a pipeline stage.
type StageOption func(*stageOptions)

type stageOptions struct {
	workers       int
	progressEvery int
	logger        *zap.Logger
}

// WithWorkers bounds the number of documents processed concurrently.
func WithWorkers(n int) StageOption {
	return func(o *stageOptions) { o.workers = n }
}

// WithProgressEvery logs progress every n documents.
func WithProgressEvery(n int) StageOption {
	return func(o *stageOptions) { o.progressEvery = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) StageOption {
	return func(o *stageOptions) { o.logger = l }
}

func buildStageOptions(opts []StageOption) stageOptions {
	o := stageOptions{workers: 1, progressEvery: 100}
	for _, fn := range opts {
		fn(&o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// progress counts processed documents and logs every n of them.
type progress struct {
	stage   string
	every   int64
	count   atomic.Int64
	started time.Time
	logger  *zap.Logger
}

func newProgress(stage string, every int, logger *zap.Logger) *progress {
	return &progress{stage: stage, every: int64(every), started: time.Now(), logger: logger}
}

func (p *progress) tick() {
	n := p.count.Add(1)
	if p.every > 0 && n%p.every == 0 {
		p.logger.Info(p.stage+" progress",
			zap.Int64("count", n),
			zap.Duration("elapsed", time.Since(p.started)))
	}
}

// ChunkStage turns extract records into chunk records plus a documents sidecar.
type ChunkStage struct {
	chunker      *Chunker
	minTextChars int
	opts         stageOptions
}

// NewChunkStage creates the chunk stage. Documents whose cleaned text is
// shorter than minTextChars are skipped.
func NewChunkStage(chunker *Chunker, minTextChars int, opts ...StageOption) *ChunkStage {
	return &ChunkStage{chunker: chunker, minTextChars: minTextChars, opts: buildStageOptions(opts)}
}

// Run chunks every record of input into output and writes each document,
// without text, to DocsPath(output). Skipped documents are still written to
// the sidecar so their needs_ocr state reaches storage.
func (s *ChunkStage) Run(ctx context.Context, input, output string) (models.Summary, error) {
	tally := models.NewTally("chunk", uuid.New().String())
	err := s.run(ctx, input, output, tally)
	if err != nil {
		tally.Abort(err)
	}
	return tally.Summary(), err
}

func (s *ChunkStage) run(ctx context.Context, input, output string, tally *models.Tally) error {
	chunksOut, err := ndjson.Create(output)
	if err != nil {
		return &models.StageError{Stage: "chunk", Err: err}
	}
	defer chunksOut.Close()
	docsOut, err := ndjson.Create(DocsPath(output))
	if err != nil {
		return &models.StageError{Stage: "chunk", Err: err}
	}
	defer docsOut.Close()

	logger := s.opts.logger
	prog := newProgress("chunk", s.opts.progressEvery, logger)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.workers)

	readErr := ndjson.EachFile(gctx, input, func(line int, rec *models.DocumentRecord) error {
		if rec.DocID == "" && rec.Metadata == nil {
			tally.Skip(fmt.Sprintf("line:%d", line), "record without doc_id")
			return nil
		}
		g.Go(func() error {
			defer prog.tick()
			return s.chunkOne(rec, chunksOut, docsOut, tally)
		})
		return nil
	}, func(le *ndjson.LineError) {
		tally.Skip(fmt.Sprintf("line:%d", le.Line), le.Err.Error())
		logger.Warn("malformed record", zap.Int("line", le.Line), zap.Error(le.Err))
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if readErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.StageError{Stage: "chunk", Err: readErr}
	}
	if err := chunksOut.Close(); err != nil {
		return &models.StageError{Stage: "chunk", Err: err}
	}
	if err := docsOut.Close(); err != nil {
		return &models.StageError{Stage: "chunk", Err: err}
	}
	logger.Info("chunk stage finished",
		zap.Int("documents", docsOut.Count()),
		zap.Int("chunks", chunksOut.Count()))
	return nil
}

func (s *ChunkStage) chunkOne(rec *models.DocumentRecord, chunksOut, docsOut *ndjson.Writer, tally *models.Tally) error {
	p := Prepare(rec, s.chunker, s.minTextChars)
	records := make([]interface{}, len(p.Chunks))
	for i, c := range p.Chunks {
		records[i] = c.Record()
	}
	if err := chunksOut.WriteAll(records...); err != nil {
		return &models.StageError{Stage: "chunk", Err: fmt.Errorf("write chunks of %s: %w", p.Document.ID, err)}
	}
	if err := docsOut.Write(p.Document); err != nil {
		return &models.StageError{Stage: "chunk", Err: fmt.Errorf("write document %s: %w", p.Document.ID, err)}
	}
	if p.SkipReason != "" {
		tally.Skip(p.Document.ID, p.SkipReason)
		return nil
	}
	tally.Succeed(1)
	return nil
}
