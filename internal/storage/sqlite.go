package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/pravo/internal/config"
	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/vector"
)

const (
	docColumns = `doc_id, title, act_number, date, authority, url, source, file_type, file_path,
		text_length, needs_ocr, reference_block, metadata, created_at, updated_at`
	chunkColumns = `chunk_id, doc_id, chunk_text, section_path, chunk_index, char_start, char_end,
		tokens, metadata, content_hash, created_at, updated_at`
	// sqliteMaxVars keeps IN lists below SQLite's bound parameter limit.
	sqliteMaxVars = 500
)

// SQLiteStorage implements Storage using SQLite. Similarity search runs on an
// in-process vector.Index that is rebuilt from the chunks table on first use
// and kept in sync on every write.
type SQLiteStorage struct {
	db          *sql.DB
	timeout     time.Duration
	commitBatch int
	dimensions  int
	logger      *zap.Logger

	indexMu     sync.Mutex
	index       vector.Index
	newIndex    func() (vector.Index, error)
	indexPath   string
	indexReady  bool
	indexDirty  bool
	fileRemoved bool
}

// NewSQLiteStorage opens or creates a SQLite database at cfg.DatabasePath and
// applies the schema migrations. Parent directories are created if they do not exist.
func NewSQLiteStorage(ctx context.Context, cfg config.StorageConfig, vcfg config.VectorConfig, dimensions int, opts ...Option) (*SQLiteStorage, error) {
	o := buildOptions(opts)
	dbPath := cfg.DatabasePath
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := MigrateSQLite(ctx, db, o.logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStorage{
		db:          db,
		timeout:     cfg.Timeout,
		commitBatch: cfg.CommitBatchSize,
		dimensions:  dimensions,
		logger:      o.logger,
		indexPath:   cfg.VectorIndexPath,
	}
	s.newIndex = func() (vector.Index, error) {
		return vector.NewIndex(vcfg, dimensions, o.logger)
	}
	if s.commitBatch <= 0 {
		s.commitBatch = 100
	}
	return s, nil
}

// DB exposes the underlying database handle.
func (s *SQLiteStorage) DB() *sql.DB { return s.db }

func (s *SQLiteStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var fileType, metadataJSON string
	if err := row.Scan(&doc.ID, &doc.Title, &doc.ActNumber, &doc.Date, &doc.Authority, &doc.URL,
		&doc.Source, &fileType, &doc.FilePath, &doc.TextLength, &doc.NeedsOCR, &doc.ReferenceBlock,
		&metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.FileType = models.FileType(fileType)
	meta, err := unmarshalMeta([]byte(metadataJSON))
	if err != nil {
		return nil, err
	}
	doc.Metadata = meta
	return &doc, nil
}

// UpsertDocument inserts doc or updates every field of the existing row in place,
// keeping its created_at.
func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *models.Document) error {
	meta, err := marshalMeta(doc.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (`+docColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET
			title = excluded.title, act_number = excluded.act_number, date = excluded.date,
			authority = excluded.authority, url = excluded.url, source = excluded.source,
			file_type = excluded.file_type, file_path = excluded.file_path,
			text_length = excluded.text_length, needs_ocr = excluded.needs_ocr,
			reference_block = excluded.reference_block, metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Title, doc.ActNumber, doc.Date, doc.Authority, doc.URL, doc.Source,
		string(doc.FileType), doc.FilePath, doc.TextLength, doc.NeedsOCR, doc.ReferenceBlock,
		string(meta), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, classify(err))
	}
	return nil
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+docColumns+` FROM documents WHERE doc_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return doc, nil
}

// ListDocuments returns documents with offset and limit.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+docColumns+` FROM documents ORDER BY created_at DESC, doc_id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and, by cascade, its chunks.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, id)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("document", id)
	}
	return s.syncIndex(ctx, func(idx vector.Index) error {
		return idx.RemoveDocument(ctx, id)
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func chunkStates(ctx context.Context, q queryer, ids []string) (map[string]models.ChunkState, error) {
	states := make(map[string]models.ChunkState, len(ids))
	for _, r := range batches(len(ids), sqliteMaxVars) {
		part := ids[r[0]:r[1]]
		rows, err := q.QueryContext(ctx,
			`SELECT chunk_id, content_hash, embedding IS NOT NULL FROM chunks
			 WHERE chunk_id IN (`+placeholders(len(part))+`)`, stringArgs(part)...)
		if err != nil {
			return nil, classify(err)
		}
		for rows.Next() {
			var id string
			var st models.ChunkState
			if err := rows.Scan(&id, &st.ContentHash, &st.Embedded); err != nil {
				rows.Close()
				return nil, err
			}
			states[id] = st
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, classify(err)
		}
	}
	return states, nil
}

// ChunkStates reports, for each existing chunk ID, its content hash and
// whether it has an embedding. Missing IDs are absent from the map.
func (s *SQLiteStorage) ChunkStates(ctx context.Context, ids []string) (map[string]models.ChunkState, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return chunkStates(ctx, s.db, ids)
}

func embeddingArg(v []float32) interface{} {
	if v == nil {
		return nil
	}
	return vector.Float32Bytes(v)
}

const (
	sqliteInsertChunk = `INSERT INTO chunks (chunk_id, doc_id, chunk_text, embedding, section_path,
		chunk_index, char_start, char_end, tokens, metadata, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqliteUpdateChunk = `UPDATE chunks SET doc_id = ?, chunk_text = ?, embedding = ?, section_path = ?,
		chunk_index = ?, char_start = ?, char_end = ?, tokens = ?, metadata = ?, content_hash = ?,
		updated_at = ? WHERE chunk_id = ?`
)

func chunkArgs(c *models.Chunk) (path string, meta []byte, err error) {
	if path, err = marshalPath(c.SectionPath); err != nil {
		return "", nil, err
	}
	if meta, err = chunkMeta(c); err != nil {
		return "", nil, err
	}
	return path, meta, nil
}

// UpsertChunks writes chunks in transactions of at most commit_batch_size:
// new chunks are inserted, changed ones updated, identical ones left untouched.
// A failing batch rolls back alone; earlier batches stay committed.
func (s *SQLiteStorage) UpsertChunks(ctx context.Context, chunks []*models.Chunk) (UpsertStats, error) {
	var total UpsertStats
	for _, r := range batches(len(chunks), s.commitBatch) {
		stats, err := s.upsertBatch(ctx, chunks[r[0]:r[1]])
		if err != nil {
			return total, err
		}
		total.Add(stats)
	}
	return total, nil
}

func (s *SQLiteStorage) upsertBatch(ctx context.Context, chunks []*models.Chunk) (UpsertStats, error) {
	var stats UpsertStats
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, classify(err)
	}
	defer tx.Rollback()

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	states, err := chunkStates(ctx, tx, ids)
	if err != nil {
		return stats, err
	}

	now := time.Now().UTC()
	var added []vector.Entry
	var removed []string
	for _, c := range chunks {
		st, exists := states[c.ID]
		action := decide(c, st, exists)
		if action == actionSkip {
			stats.Unchanged++
			continue
		}
		path, meta, err := chunkArgs(c)
		if err != nil {
			return stats, err
		}
		if action == actionInsert {
			c.CreatedAt, c.UpdatedAt = now, now
			_, err = tx.ExecContext(ctx, sqliteInsertChunk, c.ID, c.DocumentID, c.Text,
				embeddingArg(c.Embedding), path, c.ChunkIndex, c.CharStart, c.CharEnd, c.Tokens,
				string(meta), c.ContentHash, c.CreatedAt, c.UpdatedAt)
			stats.Inserted++
		} else {
			c.UpdatedAt = now
			_, err = tx.ExecContext(ctx, sqliteUpdateChunk, c.DocumentID, c.Text,
				embeddingArg(c.Embedding), path, c.ChunkIndex, c.CharStart, c.CharEnd, c.Tokens,
				string(meta), c.ContentHash, c.UpdatedAt, c.ID)
			stats.Updated++
		}
		if err != nil {
			return UpsertStats{}, fmt.Errorf("write chunk %s: %w", c.ID, classify(err))
		}
		if c.Embedding != nil {
			added = append(added, entryOf(c))
		} else {
			removed = append(removed, c.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return UpsertStats{}, classify(err)
	}
	return stats, s.syncIndex(ctx, func(idx vector.Index) error {
		if err := idx.Remove(ctx, removed); err != nil {
			return err
		}
		return idx.Add(ctx, added)
	})
}

func entryOf(c *models.Chunk) vector.Entry {
	return vector.Entry{
		ID:          c.ID,
		DocID:       c.DocumentID,
		SectionPath: c.SectionPath,
		ChunkIndex:  c.ChunkIndex,
		Vector:      c.Embedding,
	}
}

// ReplaceChunks atomically swaps the chunk set of a document for chunks.
func (s *SQLiteStorage) ReplaceChunks(ctx context.Context, docID string, chunks []*models.Chunk) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return classify(err)
	}
	stmt, err := tx.PrepareContext(ctx, sqliteInsertChunk)
	if err != nil {
		return classify(err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var added []vector.Entry
	for _, c := range chunks {
		if c.DocumentID != docID {
			return fmt.Errorf("chunk %s belongs to %s, not %s: %w", c.ID, c.DocumentID, docID, models.ErrData)
		}
		path, meta, err := chunkArgs(c)
		if err != nil {
			return err
		}
		c.CreatedAt, c.UpdatedAt = now, now
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Text, embeddingArg(c.Embedding), path,
			c.ChunkIndex, c.CharStart, c.CharEnd, c.Tokens, string(meta), c.ContentHash,
			c.CreatedAt, c.UpdatedAt); err != nil {
			return fmt.Errorf("write chunk %s: %w", c.ID, classify(err))
		}
		if c.Embedding != nil {
			added = append(added, entryOf(c))
		}
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return s.syncIndex(ctx, func(idx vector.Index) error {
		if err := idx.RemoveDocument(ctx, docID); err != nil {
			return err
		}
		return idx.Add(ctx, added)
	})
}

func scanChunk(row rowScanner, withEmbedding bool) (*models.Chunk, error) {
	var c models.Chunk
	var path, metadataJSON string
	var embedding []byte
	dest := []interface{}{&c.ID, &c.DocumentID, &c.Text, &path, &c.ChunkIndex, &c.CharStart,
		&c.CharEnd, &c.Tokens, &metadataJSON, &c.ContentHash, &c.CreatedAt, &c.UpdatedAt}
	if withEmbedding {
		dest = append(dest, &embedding)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	var err error
	if c.SectionPath, err = unmarshalPath(path); err != nil {
		return nil, err
	}
	meta, err := unmarshalMeta([]byte(metadataJSON))
	if err != nil {
		return nil, err
	}
	c.ApplyStoredMetadata(meta)
	if embedding != nil {
		c.Embedding = vector.BytesFloat32(embedding)
	}
	return &c, nil
}

// GetChunk returns a chunk, including its embedding, by ID.
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	c, err := scanChunk(s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+`, embedding FROM chunks WHERE chunk_id = ?`, id), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("chunk", id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return c, nil
}

// GetChunksByDocumentID returns all chunks for a document ordered by chunk_index.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+`, embedding FROM chunks WHERE doc_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	chunks := []*models.Chunk{}
	for rows.Next() {
		c, err := scanChunk(rows, true)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteChunksByDocumentID removes all chunks for a document.
func (s *SQLiteStorage) DeleteChunksByDocumentID(ctx context.Context, docID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return classify(err)
	}
	return s.syncIndex(ctx, func(idx vector.Index) error {
		return idx.RemoveDocument(ctx, docID)
	})
}

// Checkpoint returns the highest chunk_index such that every chunk of the
// document up to it is stored with an embedding, or -1 when there is none.
func (s *SQLiteStorage) Checkpoint(ctx context.Context, docID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index, embedding IS NOT NULL FROM chunks WHERE doc_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return -1, classify(err)
	}
	defer rows.Close()
	return contiguous(rows)
}

type indexRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func contiguous(rows indexRows) (int, error) {
	last := -1
	for rows.Next() {
		var idx int
		var embedded bool
		if err := rows.Scan(&idx, &embedded); err != nil {
			return -1, err
		}
		if idx != last+1 || !embedded {
			break
		}
		last = idx
	}
	return last, rows.Err()
}

// SearchSimilar returns the opts.TopK chunks closest to vec by cosine similarity.
func (s *SQLiteStorage) SearchSimilar(ctx context.Context, vec []float32, opts SearchOptions) ([]*Hit, error) {
	if len(vec) != s.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d: %w", len(vec), s.dimensions, models.ErrData)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	results, err := s.index.Search(ctx, vec, opts.TopK, vector.Filter{DocID: opts.DocID, SectionPrefix: opts.SectionPrefix})
	if err != nil {
		return nil, err
	}
	hits := []*Hit{}
	if len(results) == 0 {
		return hits, nil
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE chunk_id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	byID := make(map[string]*models.Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows, false)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	for _, r := range results {
		if c, ok := byID[r.ID]; ok {
			hits = append(hits, &Hit{Chunk: c, Score: r.Score})
		}
	}
	return hits, nil
}

// ensureIndex loads the saved index or rebuilds it from the chunks table.
func (s *SQLiteStorage) ensureIndex(ctx context.Context) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.indexReady {
		return nil
	}
	idx, err := s.newIndex()
	if err != nil {
		return err
	}
	var embedded int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL`).Scan(&embedded); err != nil {
		return classify(err)
	}
	if s.indexPath != "" {
		if err := idx.Load(s.indexPath); err != nil {
			s.logger.Warn("ignoring unreadable vector index file", zap.String("path", s.indexPath), zap.Error(err))
		}
	}
	if idx.Size() != embedded {
		if idx, err = s.rebuildIndex(ctx); err != nil {
			return err
		}
		s.indexDirty = true
	}
	s.index = idx
	s.indexReady = true
	return nil
}

func (s *SQLiteStorage) rebuildIndex(ctx context.Context) (vector.Index, error) {
	start := time.Now()
	idx, err := s.newIndex()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, doc_id, section_path, chunk_index, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	batch := make([]vector.Entry, 0, 1000)
	for rows.Next() {
		var e vector.Entry
		var path string
		var embedding []byte
		if err := rows.Scan(&e.ID, &e.DocID, &path, &e.ChunkIndex, &embedding); err != nil {
			return nil, err
		}
		if e.SectionPath, err = unmarshalPath(path); err != nil {
			return nil, err
		}
		e.Vector = vector.BytesFloat32(embedding)
		batch = append(batch, e)
		if len(batch) == cap(batch) {
			if err := idx.Add(ctx, batch); err != nil {
				return nil, err
			}
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if err := idx.Add(ctx, batch); err != nil {
		return nil, err
	}
	s.logger.Info("rebuilt vector index",
		zap.Int("vectors", idx.Size()),
		zap.Duration("elapsed", time.Since(start)))
	return idx, nil
}

// syncIndex applies fn to a loaded index. An index not yet loaded picks the
// change up from the table when it is built. The saved file is removed on the
// first change so a crash never leaves a stale copy behind.
func (s *SQLiteStorage) syncIndex(ctx context.Context, fn func(vector.Index) error) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if !s.fileRemoved && s.indexPath != "" {
		if err := os.Remove(s.indexPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove vector index file", zap.String("path", s.indexPath), zap.Error(err))
		}
		s.fileRemoved = true
	}
	if !s.indexReady {
		return nil
	}
	s.indexDirty = true
	return fn(s.index)
}

// BuildVectorIndex loads the index, trains it when it supports training and
// writes it to disk.
func (s *SQLiteStorage) BuildVectorIndex(ctx context.Context) (IndexInfo, error) {
	if err := s.ensureIndex(ctx); err != nil {
		return IndexInfo{}, err
	}
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	info := IndexInfo{Vectors: int64(s.index.Size())}
	if ivf, ok := s.index.(*vector.IVFIndex); ok {
		if err := ivf.Train(ctx); err != nil {
			return IndexInfo{}, err
		}
		info.Lists = ivf.Lists()
	}
	if s.indexPath != "" {
		if err := s.index.Save(s.indexPath); err != nil {
			return IndexInfo{}, fmt.Errorf("save vector index: %w", err)
		}
		s.indexDirty = false
		s.fileRemoved = false
	}
	return info, nil
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, classify(err)
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, classify(err)
}

// CountEmbedded returns the number of chunks that have an embedding.
func (s *SQLiteStorage) CountEmbedded(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL`).Scan(&count)
	return count, classify(err)
}

// Close saves a changed vector index and closes the database connection.
func (s *SQLiteStorage) Close() error {
	s.indexMu.Lock()
	if s.indexReady && s.indexDirty && s.indexPath != "" {
		if err := s.index.Save(s.indexPath); err != nil {
			s.logger.Warn("failed to save vector index", zap.String("path", s.indexPath), zap.Error(err))
		}
	}
	s.indexMu.Unlock()
	return s.db.Close()
}
