package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/pravo/internal/embedding"
	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/ndjson"
	"github.com/hyperjump/pravo/internal/storage"
)

// writeGrace bounds the final write of an interrupted document.
const writeGrace = 30 * time.Second

// EmbedStage embeds chunk records and stores them with their documents.
// Chunks already stored with an embedding and unchanged content are not sent
// to the provider again, so an interrupted run resumes where it stopped.
type EmbedStage struct {
	store      storage.Storage
	gen        *embedding.Generator
	policy     embedding.RetryPolicy
	locks      *keyedMutex
	buildIndex bool
	opts       stageOptions
}

// NewEmbedStage creates the embed stage. policy governs retries of transient
// storage failures; provider calls are retried by gen.
func NewEmbedStage(store storage.Storage, gen *embedding.Generator, policy embedding.RetryPolicy, opts ...StageOption) *EmbedStage {
	return &EmbedStage{
		store:  store,
		gen:    gen,
		policy: policy,
		locks:  newKeyedMutex(),
		opts:   buildStageOptions(opts),
	}
}

// BuildIndexAfterRun makes Run rebuild the backend's vector index when
// anything was embedded.
func (s *EmbedStage) BuildIndexAfterRun(enabled bool) *EmbedStage {
	s.buildIndex = enabled
	return s
}

// docGroup is the contiguous run of chunk records of one document.
type docGroup struct {
	docID  string
	chunks []*models.Chunk
}

// Run embeds the chunks in input. Documents come from the DocsPath(input)
// sidecar when it exists, otherwise from storage.
func (s *EmbedStage) Run(ctx context.Context, input string) (models.Summary, error) {
	tally := models.NewTally("embed", uuid.New().String())
	err := s.run(ctx, input, tally)
	if err != nil {
		tally.Abort(err)
	}
	return tally.Summary(), err
}

func (s *EmbedStage) run(ctx context.Context, input string, tally *models.Tally) error {
	logger := s.opts.logger
	docs, err := s.loadDocuments(ctx, DocsPath(input), tally)
	if err != nil {
		return err
	}

	prog := newProgress("embed", s.opts.progressEvery, logger)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.workers)
	seen := make(map[string]bool)
	var cur *docGroup
	var embedded int64
	results := make(chan int, s.opts.workers)
	done := make(chan struct{})
	go func() {
		for n := range results {
			embedded += int64(n)
		}
		close(done)
	}()

	dispatch := func(grp *docGroup) {
		doc := docs[grp.docID]
		delete(docs, grp.docID)
		g.Go(func() error {
			defer prog.tick()
			n, err := s.EmbedDocument(gctx, doc, grp.docID, grp.chunks, tally)
			results <- n
			return err
		})
	}

	readErr := ndjson.EachFile(gctx, input, func(line int, rec *models.ChunkRecord) error {
		if rec.ChunkID == "" || rec.DocID == "" {
			tally.Skip(fmt.Sprintf("line:%d", line), "chunk record without chunk_id or doc_id")
			return nil
		}
		if cur != nil && cur.docID == rec.DocID {
			cur.chunks = append(cur.chunks, rec.Chunk())
			return nil
		}
		if cur != nil {
			dispatch(cur)
		}
		if seen[rec.DocID] {
			tally.Fail(rec.DocID, "chunks of the document are not contiguous in the input")
			cur = nil
			return nil
		}
		seen[rec.DocID] = true
		cur = &docGroup{docID: rec.DocID, chunks: []*models.Chunk{rec.Chunk()}}
		return nil
	}, func(le *ndjson.LineError) {
		tally.Skip(fmt.Sprintf("line:%d", le.Line), le.Err.Error())
		logger.Warn("malformed record", zap.Int("line", le.Line), zap.Error(le.Err))
	})
	if readErr == nil && cur != nil {
		dispatch(cur)
	}
	waitErr := g.Wait()
	close(results)
	<-done
	if waitErr != nil {
		return waitErr
	}
	if readErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.StageError{Stage: "embed", Err: readErr}
	}

	// Documents without chunks (OCR candidates, too short) are stored too.
	for _, doc := range docs {
		if err := s.retry(ctx, func(ctx context.Context) error {
			return s.store.UpsertDocument(ctx, doc)
		}); err != nil {
			if models.Classify(err) == models.ClassData {
				tally.Fail(doc.ID, err.Error())
				continue
			}
			return err
		}
	}

	if s.buildIndex && embedded > 0 {
		if ix, ok := s.store.(storage.VectorIndexer); ok {
			info, err := ix.BuildVectorIndex(ctx)
			if err != nil {
				return &models.StageError{Stage: "embed", Err: fmt.Errorf("build vector index: %w", err)}
			}
			logger.Info("vector index ready", zap.Int64("vectors", info.Vectors), zap.Int("lists", info.Lists))
		}
	}
	return nil
}

func (s *EmbedStage) loadDocuments(ctx context.Context, path string, tally *models.Tally) (map[string]*models.Document, error) {
	docs := make(map[string]*models.Document)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s.opts.logger.Info("no documents sidecar, using stored documents", zap.String("path", path))
		return docs, nil
	}
	err := ndjson.EachFile(ctx, path, func(_ int, doc *models.Document) error {
		if doc.ID != "" {
			docs[doc.ID] = doc
		}
		return nil
	}, func(le *ndjson.LineError) {
		tally.Skip(fmt.Sprintf("docs-line:%d", le.Line), le.Err.Error())
	})
	if err != nil {
		return nil, &models.StageError{Stage: "embed", Err: fmt.Errorf("read documents: %w", err)}
	}
	return docs, nil
}

// retry runs op under the stage's retry policy. Exhausted transient failures
// and fatal errors come back as *models.StageError; data errors unchanged.
func (s *EmbedStage) retry(ctx context.Context, op func(ctx context.Context) error) error {
	out := s.policy.Do(ctx, op)
	switch out.Kind {
	case embedding.OutcomeSuccess:
		return nil
	case embedding.OutcomePermanent:
		return out.Err
	case embedding.OutcomeTransient:
		return &models.StageError{Stage: "embed", Err: fmt.Errorf("storage still failing after %d attempts, rerun to resume: %w", out.Attempts, out.Err)}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &models.StageError{Stage: "embed", Err: out.Err}
}

// EmbedDocument stores doc and embeds its chunks that are not yet stored with
// an embedding. When the document was chunked differently before, the stored
// chunk set is replaced first, keeping embeddings of chunks whose id and text
// did not change. doc may be nil when the document is already stored. It
// returns the number of chunks embedded.
func (s *EmbedStage) EmbedDocument(ctx context.Context, doc *models.Document, docID string, chunks []*models.Chunk, tally *models.Tally) (int, error) {
	unlock := s.locks.Lock(docID)
	defer unlock()
	logger := s.opts.logger.With(zap.String("doc_id", docID))

	var stored *models.Document
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		stored, err = s.store.GetDocument(ctx, docID)
		if errors.Is(err, models.ErrNotFound) {
			stored = nil
			return nil
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	if doc == nil {
		if stored == nil {
			tally.Fail(docID, "document record missing from sidecar and storage")
			return 0, nil
		}
		doc = stored
	}
	signature := Signature(chunks)
	doc.SetMeta(models.MetaChunkCount, len(chunks))
	doc.SetMeta(models.MetaChunkingSignature, signature)
	if stored != nil {
		doc.CreatedAt = stored.CreatedAt
	}

	if stored != nil && stored.MetaString(models.MetaChunkingSignature) != signature {
		if err := s.replace(ctx, docID, chunks); err != nil {
			return 0, s.docFailure(tally, docID, err)
		}
		logger.Info("replaced chunk set", zap.Int("chunks", len(chunks)))
	}
	if err := s.retry(ctx, func(ctx context.Context) error {
		return s.store.UpsertDocument(ctx, doc)
	}); err != nil {
		return 0, s.docFailure(tally, docID, err)
	}

	pending, err := s.pending(ctx, chunks)
	if err != nil {
		return 0, err
	}
	if kept := len(chunks) - len(pending); kept > 0 {
		tally.Keep(kept)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	items := make([]embedding.Item, len(pending))
	for i, c := range pending {
		items[i] = embedding.Item{ID: c.ID, Text: c.Text}
	}
	res, embedErr := s.gen.Embed(ctx, items)
	for _, c := range pending {
		c.Embedding = res.Vectors[c.ID]
		if reason, ok := res.Failed[c.ID]; ok {
			tally.Fail(c.ID, reason.Error())
		}
	}

	// Store whatever was embedded, even when the generator aborted, so the
	// next run resumes after it. A cancelled run still commits with a fresh context.
	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), writeGrace)
		defer cancel()
	}
	var stats storage.UpsertStats
	if err := s.retry(writeCtx, func(ctx context.Context) error {
		var err error
		stats, err = s.store.UpsertChunks(ctx, pending)
		return err
	}); err != nil {
		if embedErr != nil {
			return 0, embedErr
		}
		return 0, s.docFailure(tally, docID, err)
	}
	n := len(res.Vectors)
	tally.Succeed(n)
	logger.Debug("embedded document",
		zap.Int("embedded", n),
		zap.Int("failed", len(res.Failed)),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated))
	return n, embedErr
}

// replace swaps the stored chunk set for chunks, carrying over embeddings
// whose chunk id and content hash are unchanged.
func (s *EmbedStage) replace(ctx context.Context, docID string, chunks []*models.Chunk) error {
	return s.retry(ctx, func(ctx context.Context) error {
		old, err := s.store.GetChunksByDocumentID(ctx, docID)
		if err != nil {
			return err
		}
		prev := make(map[string]*models.Chunk, len(old))
		for _, c := range old {
			prev[c.ID] = c
		}
		for _, c := range chunks {
			if p, ok := prev[c.ID]; ok && p.ContentHash == c.ContentHash && p.Embedding != nil {
				c.Embedding = p.Embedding
			} else {
				c.Embedding = nil
			}
		}
		return s.store.ReplaceChunks(ctx, docID, chunks)
	})
}

// pending returns the chunks that are missing, changed, or stored without an
// embedding.
func (s *EmbedStage) pending(ctx context.Context, chunks []*models.Chunk) ([]*models.Chunk, error) {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	var states map[string]models.ChunkState
	if err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		states, err = s.store.ChunkStates(ctx, ids)
		return err
	}); err != nil {
		return nil, err
	}
	var out []*models.Chunk
	for _, c := range chunks {
		st, ok := states[c.ID]
		if ok && st.Embedded && st.ContentHash == c.ContentHash {
			continue
		}
		c.Embedding = nil
		out = append(out, c)
	}
	return out, nil
}

// docFailure records a data error against the document and swallows it;
// anything else aborts the run.
func (s *EmbedStage) docFailure(tally *models.Tally, docID string, err error) error {
	if models.Classify(err) == models.ClassData {
		tally.Fail(docID, err.Error())
		s.opts.logger.Warn("document failed", zap.String("doc_id", docID), zap.Error(err))
		return nil
	}
	return err
}
