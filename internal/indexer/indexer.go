package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/pravo/internal/extract"
	"github.com/hyperjump/pravo/internal/fileid"
	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/storage"
)

const (
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// Indexer runs extract, chunk and embed for single files, as needed by
// directory watching. Batch runs use the stages directly.
type Indexer struct {
	storage      storage.Storage
	extractor    *extract.Extractor
	chunker      *Chunker
	embed        *EmbedStage
	minTextChars int
	allowedExts  []string
	logger       *zap.Logger
}

// NewIndexer creates an indexer. allowedExts limits which files are indexed;
// empty means every supported type.
func NewIndexer(store storage.Storage, extractor *extract.Extractor, chunker *Chunker, embed *EmbedStage, minTextChars int, allowedExts []string, opts ...StageOption) *Indexer {
	o := buildStageOptions(opts)
	return &Indexer{
		storage:      store,
		extractor:    extractor,
		chunker:      chunker,
		embed:        embed,
		minTextChars: minTextChars,
		allowedExts:  allowedExts,
		logger:       o.logger,
	}
}

// IndexFile extracts, chunks and embeds the file at path. A file already
// stored with the same mtime and size is skipped. The returned summary
// covers this file only.
func (idx *Indexer) IndexFile(ctx context.Context, path string) (models.Summary, error) {
	tally := models.NewTally("ingest", uuid.New().String())
	err := idx.indexFile(ctx, path, tally)
	if err != nil {
		tally.Abort(err)
	}
	return tally.Summary(), err
}

func (idx *Indexer) indexFile(ctx context.Context, path string, tally *models.Tally) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	if len(idx.allowedExts) > 0 && !extract.ExtensionAllowed(filepath.Ext(absPath), idx.allowedExts) {
		return fmt.Errorf("extension %q not in allowed list: %w", filepath.Ext(absPath), models.ErrData)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s: %w", absPath, models.ErrData)
	}
	docID := fileid.DocID(absPath)
	if skip, err := idx.unchanged(ctx, docID, info); err != nil {
		return err
	} else if skip {
		idx.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		tally.Keep(1)
		return nil
	}

	rec, err := idx.extractor.Extract(ctx, absPath)
	if err != nil {
		if extract.IsUnsupported(err) {
			tally.Skip(docID, err.Error())
			return nil
		}
		return err
	}
	p := Prepare(rec, idx.chunker, idx.minTextChars)
	p.Document.SetMeta(metaKeySourceMtime, strconv.FormatInt(info.ModTime().UnixNano(), 10))
	p.Document.SetMeta(metaKeySourceSize, strconv.FormatInt(info.Size(), 10))
	if p.SkipReason != "" {
		tally.Skip(docID, p.SkipReason)
	}
	if _, err := idx.embed.EmbedDocument(ctx, p.Document, docID, p.Chunks, tally); err != nil {
		return err
	}
	idx.logger.Info("file indexed",
		zap.String("path", absPath),
		zap.String("doc_id", docID),
		zap.Int("chunks", len(p.Chunks)))
	return nil
}

// unchanged reports whether the stored document was built from a file with
// this mtime and size.
func (idx *Indexer) unchanged(ctx context.Context, docID string, info os.FileInfo) (bool, error) {
	doc, err := idx.storage.GetDocument(ctx, docID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// Stored as strings: UnixNano exceeds float64 precision in JSON.
	return doc.MetaString(metaKeySourceMtime) == strconv.FormatInt(info.ModTime().UnixNano(), 10) &&
		doc.MetaString(metaKeySourceSize) == strconv.FormatInt(info.Size(), 10), nil
}

// IndexDirectory indexes every allowed file under dir. Per-file data errors
// are recorded in the summary; only fatal errors stop the walk.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string) (models.Summary, error) {
	tally := models.NewTally("ingest", uuid.New().String())
	disc, err := extract.Discover(dir, idx.allowedExts)
	if err != nil {
		return tally.Summary(), &models.StageError{Stage: "ingest", Err: err}
	}
	for _, path := range disc.Files {
		if err := ctx.Err(); err != nil {
			tally.Abort(err)
			return tally.Summary(), err
		}
		if err := idx.indexFile(ctx, path, tally); err != nil {
			if models.Classify(err) == models.ClassData {
				tally.Fail(path, err.Error())
				continue
			}
			tally.Abort(err)
			return tally.Summary(), err
		}
	}
	return tally.Summary(), nil
}

// DeleteFile removes the document built from path and its chunks.
func (idx *Indexer) DeleteFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	return idx.DeleteDocument(ctx, fileid.DocID(absPath))
}

// DeleteDocument removes a document and, by cascade, its chunks.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	idx.logger.Debug("deleting document", zap.String("doc_id", id))
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}
