package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/hyperjump/pravo/internal/config"
	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/vector"
)

// halfvecThreshold is the largest dimension ivfflat can index as vector;
// wider embeddings are indexed as halfvec.
const halfvecThreshold = 2000

// DB is the subset of pgxpool.Pool used by PostgresStorage.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

const (
	pgDocColumns = `doc_id, title, act_number, COALESCE(to_char(date, 'YYYY-MM-DD'), ''), authority, url,
		source, file_type, file_path, text_length, needs_ocr, reference_block, metadata, created_at, updated_at`
	pgChunkColumns = `chunk_id, doc_id, chunk_text, section_path, chunk_index, char_start, char_end,
		tokens, metadata, content_hash, created_at, updated_at`
	pgInsertChunk = `INSERT INTO chunks (chunk_id, doc_id, chunk_text, embedding, section_path,
		chunk_index, char_start, char_end, tokens, metadata, content_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	pgUpdateChunk = `UPDATE chunks SET doc_id = $2, chunk_text = $3, embedding = $4, section_path = $5,
		chunk_index = $6, char_start = $7, char_end = $8, tokens = $9, metadata = $10,
		content_hash = $11, updated_at = $12 WHERE chunk_id = $1`
	pgVectorIndex = "chunks_embedding_ivf"
)

// PostgresStorage implements Storage on PostgreSQL with pgvector. Similarity
// search uses an ivfflat index over the embedding column cast to the
// configured dimension.
type PostgresStorage struct {
	db          DB
	dimensions  int
	timeout     time.Duration
	commitBatch int
	lists       int
	probes      int
	logger      *zap.Logger

	probesMu sync.Mutex
}

// NewPostgresStorage applies migrations and opens a connection pool to cfg.DSN.
func NewPostgresStorage(ctx context.Context, cfg config.StorageConfig, dimensions int, opts ...Option) (*PostgresStorage, error) {
	o := buildOptions(opts)
	if err := MigratePostgres(ctx, cfg.DSN, o.logger); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", models.ErrFatal)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", classify(err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", classify(err))
	}
	return NewPostgresStorageWithDB(pool, cfg, dimensions, opts...), nil
}

// NewPostgresStorageWithDB wraps an existing pool. Migrations are not applied.
func NewPostgresStorageWithDB(db DB, cfg config.StorageConfig, dimensions int, opts ...Option) *PostgresStorage {
	o := buildOptions(opts)
	s := &PostgresStorage{
		db:          db,
		dimensions:  dimensions,
		timeout:     cfg.Timeout,
		commitBatch: cfg.CommitBatchSize,
		lists:       cfg.IVFLists,
		probes:      cfg.IVFProbes,
		logger:      o.logger,
	}
	if s.commitBatch <= 0 {
		s.commitBatch = 100
	}
	return s
}

func (s *PostgresStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// vectorExpr is the indexed expression over the embedding column.
func (s *PostgresStorage) vectorExpr() string {
	if s.dimensions > halfvecThreshold {
		return fmt.Sprintf("(embedding::halfvec(%d))", s.dimensions)
	}
	return fmt.Sprintf("(embedding::vector(%d))", s.dimensions)
}

func (s *PostgresStorage) opsClass() string {
	if s.dimensions > halfvecThreshold {
		return "halfvec_cosine_ops"
	}
	return "vector_cosine_ops"
}

func (s *PostgresStorage) queryVector(v []float32) any {
	if s.dimensions > halfvecThreshold {
		return pgvector.NewHalfVector(v)
	}
	return pgvector.NewVector(v)
}

func embeddingValue(v []float32) any {
	if v == nil {
		return nil
	}
	return pgvector.NewVector(v)
}

func scanPgDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	var fileType string
	var metadataJSON []byte
	if err := row.Scan(&doc.ID, &doc.Title, &doc.ActNumber, &doc.Date, &doc.Authority, &doc.URL,
		&doc.Source, &fileType, &doc.FilePath, &doc.TextLength, &doc.NeedsOCR, &doc.ReferenceBlock,
		&metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.FileType = models.FileType(fileType)
	meta, err := unmarshalMeta(metadataJSON)
	if err != nil {
		return nil, err
	}
	doc.Metadata = meta
	return &doc, nil
}

// UpsertDocument inserts doc or updates the existing row, keeping its created_at.
func (s *PostgresStorage) UpsertDocument(ctx context.Context, doc *models.Document) error {
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
	_, err = s.db.Exec(ctx,
		`INSERT INTO documents (doc_id, title, act_number, date, authority, url, source, file_type,
			file_path, text_length, needs_ocr, reference_block, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, NULLIF($4, '')::date, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (doc_id) DO UPDATE SET
			title = EXCLUDED.title, act_number = EXCLUDED.act_number, date = EXCLUDED.date,
			authority = EXCLUDED.authority, url = EXCLUDED.url, source = EXCLUDED.source,
			file_type = EXCLUDED.file_type, file_path = EXCLUDED.file_path,
			text_length = EXCLUDED.text_length, needs_ocr = EXCLUDED.needs_ocr,
			reference_block = EXCLUDED.reference_block, metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		doc.ID, doc.Title, doc.ActNumber, doc.Date, doc.Authority, doc.URL, doc.Source,
		string(doc.FileType), doc.FilePath, doc.TextLength, doc.NeedsOCR, doc.ReferenceBlock,
		meta, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, classify(err))
	}
	return nil
}

// GetDocument returns a document by ID.
func (s *PostgresStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc, err := scanPgDocument(s.db.QueryRow(ctx, `SELECT `+pgDocColumns+` FROM documents WHERE doc_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return doc, nil
}

// ListDocuments returns documents with offset and limit.
func (s *PostgresStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.Query(ctx,
		`SELECT `+pgDocColumns+` FROM documents ORDER BY created_at DESC, doc_id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		doc, err := scanPgDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, classify(rows.Err())
}

// DeleteDocument removes a document and, by cascade, its chunks.
func (s *PostgresStorage) DeleteDocument(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE doc_id = $1`, id)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("document", id)
	}
	return nil
}

type pgQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func pgChunkStates(ctx context.Context, q pgQueryer, ids []string) (map[string]models.ChunkState, error) {
	states := make(map[string]models.ChunkState, len(ids))
	if len(ids) == 0 {
		return states, nil
	}
	rows, err := q.Query(ctx,
		`SELECT chunk_id, content_hash, embedding IS NOT NULL FROM chunks WHERE chunk_id = ANY($1)`, ids)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var st models.ChunkState
		if err := rows.Scan(&id, &st.ContentHash, &st.Embedded); err != nil {
			return nil, err
		}
		states[id] = st
	}
	return states, classify(rows.Err())
}

// ChunkStates reports the content hash and embedding presence of existing chunks.
func (s *PostgresStorage) ChunkStates(ctx context.Context, ids []string) (map[string]models.ChunkState, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return pgChunkStates(ctx, s.db, ids)
}

// UpsertChunks writes chunks in transactions of at most commit_batch_size.
func (s *PostgresStorage) UpsertChunks(ctx context.Context, chunks []*models.Chunk) (UpsertStats, error) {
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

func (s *PostgresStorage) upsertBatch(ctx context.Context, chunks []*models.Chunk) (stats UpsertStats, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return stats, classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			stats = UpsertStats{}
		}
	}()

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	states, err := pgChunkStates(ctx, tx, ids)
	if err != nil {
		return stats, err
	}
	now := time.Now().UTC()
	for _, c := range chunks {
		st, exists := states[c.ID]
		action := decide(c, st, exists)
		if action == actionSkip {
			stats.Unchanged++
			continue
		}
		meta, merr := chunkMeta(c)
		if merr != nil {
			return stats, merr
		}
		if action == actionInsert {
			c.CreatedAt, c.UpdatedAt = now, now
			_, err = tx.Exec(ctx, pgInsertChunk, c.ID, c.DocumentID, c.Text, embeddingValue(c.Embedding),
				sectionPath(c.SectionPath), c.ChunkIndex, c.CharStart, c.CharEnd, c.Tokens, meta,
				c.ContentHash, c.CreatedAt, c.UpdatedAt)
			stats.Inserted++
		} else {
			c.UpdatedAt = now
			_, err = tx.Exec(ctx, pgUpdateChunk, c.ID, c.DocumentID, c.Text, embeddingValue(c.Embedding),
				sectionPath(c.SectionPath), c.ChunkIndex, c.CharStart, c.CharEnd, c.Tokens, meta,
				c.ContentHash, c.UpdatedAt)
			stats.Updated++
		}
		if err != nil {
			return stats, fmt.Errorf("write chunk %s: %w", c.ID, classify(err))
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return stats, classify(err)
	}
	return stats, nil
}

// ReplaceChunks atomically swaps the chunk set of a document for chunks.
func (s *PostgresStorage) ReplaceChunks(ctx context.Context, docID string, chunks []*models.Chunk) (err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docID); err != nil {
		return classify(err)
	}
	now := time.Now().UTC()
	for _, c := range chunks {
		if c.DocumentID != docID {
			return fmt.Errorf("chunk %s belongs to %s, not %s: %w", c.ID, c.DocumentID, docID, models.ErrData)
		}
		meta, merr := chunkMeta(c)
		if merr != nil {
			return merr
		}
		c.CreatedAt, c.UpdatedAt = now, now
		if _, err = tx.Exec(ctx, pgInsertChunk, c.ID, c.DocumentID, c.Text, embeddingValue(c.Embedding),
			sectionPath(c.SectionPath), c.ChunkIndex, c.CharStart, c.CharEnd, c.Tokens, meta,
			c.ContentHash, c.CreatedAt, c.UpdatedAt); err != nil {
			return fmt.Errorf("write chunk %s: %w", c.ID, classify(err))
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func scanPgChunk(row pgx.Row, extra ...any) (*models.Chunk, error) {
	var c models.Chunk
	var metadataJSON []byte
	dest := append([]any{&c.ID, &c.DocumentID, &c.Text, &c.SectionPath, &c.ChunkIndex, &c.CharStart,
		&c.CharEnd, &c.Tokens, &metadataJSON, &c.ContentHash, &c.CreatedAt, &c.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.SectionPath = sectionPath(c.SectionPath)
	meta, err := unmarshalMeta(metadataJSON)
	if err != nil {
		return nil, err
	}
	c.ApplyStoredMetadata(meta)
	return &c, nil
}

// parseEmbedding decodes the text form of a pgvector value.
func parseEmbedding(text *string) ([]float32, error) {
	if text == nil {
		return nil, nil
	}
	var v pgvector.Vector
	if err := v.Scan(*text); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return v.Slice(), nil
}

// GetChunk returns a chunk, including its embedding, by ID.
func (s *PostgresStorage) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var embedding *string
	c, err := scanPgChunk(s.db.QueryRow(ctx,
		`SELECT `+pgChunkColumns+`, embedding::text FROM chunks WHERE chunk_id = $1`, id), &embedding)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("chunk", id)
	}
	if err != nil {
		return nil, classify(err)
	}
	if c.Embedding, err = parseEmbedding(embedding); err != nil {
		return nil, err
	}
	return c, nil
}

// GetChunksByDocumentID returns all chunks for a document ordered by chunk_index.
func (s *PostgresStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.Query(ctx,
		`SELECT `+pgChunkColumns+`, embedding::text FROM chunks WHERE doc_id = $1 ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	chunks := []*models.Chunk{}
	for rows.Next() {
		var embedding *string
		c, err := scanPgChunk(rows, &embedding)
		if err != nil {
			return nil, err
		}
		if c.Embedding, err = parseEmbedding(embedding); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, classify(rows.Err())
}

// DeleteChunksByDocumentID removes all chunks for a document.
func (s *PostgresStorage) DeleteChunksByDocumentID(ctx context.Context, docID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docID)
	return classify(err)
}

// Checkpoint returns the highest chunk_index such that every chunk of the
// document up to it is stored with an embedding, or -1 when there is none.
func (s *PostgresStorage) Checkpoint(ctx context.Context, docID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.Query(ctx,
		`SELECT chunk_index, embedding IS NOT NULL FROM chunks WHERE doc_id = $1 ORDER BY chunk_index`, docID)
	if err != nil {
		return -1, classify(err)
	}
	defer rows.Close()
	return contiguous(rows)
}

// BuildVectorIndex (re)creates the ivfflat index. Lists default to a value
// derived from the number of embedded chunks.
func (s *PostgresStorage) BuildVectorIndex(ctx context.Context) (IndexInfo, error) {
	n, err := s.CountEmbedded(ctx)
	if err != nil {
		return IndexInfo{}, err
	}
	lists := s.lists
	if lists <= 0 {
		lists = vector.AutoLists(int(n))
	}
	start := time.Now()
	if _, err := s.db.Exec(ctx, `DROP INDEX IF EXISTS `+pgVectorIndex); err != nil {
		return IndexInfo{}, classify(err)
	}
	stmt := fmt.Sprintf(`CREATE INDEX %s ON chunks USING ivfflat (%s %s) WITH (lists = %d)`,
		pgVectorIndex, s.vectorExpr(), s.opsClass(), lists)
	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return IndexInfo{}, fmt.Errorf("create vector index: %w", classify(err))
	}
	s.probesMu.Lock()
	s.lists = lists
	s.probesMu.Unlock()
	s.logger.Info("built vector index",
		zap.Int("lists", lists),
		zap.Int64("vectors", n),
		zap.Duration("elapsed", time.Since(start)))
	return IndexInfo{Vectors: n, Lists: lists}, nil
}

func (s *PostgresStorage) probeCount(ctx context.Context) (int, error) {
	s.probesMu.Lock()
	defer s.probesMu.Unlock()
	if s.probes > 0 {
		return s.probes, nil
	}
	if s.lists <= 0 {
		n, err := s.CountEmbedded(ctx)
		if err != nil {
			return 0, err
		}
		s.lists = vector.AutoLists(int(n))
	}
	s.probes = vector.AutoProbes(s.lists)
	return s.probes, nil
}

// SearchSimilar returns the opts.TopK chunks closest to vec by cosine similarity.
func (s *PostgresStorage) SearchSimilar(ctx context.Context, vec []float32, opts SearchOptions) (hits []*Hit, err error) {
	if len(vec) != s.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d: %w", len(vec), s.dimensions, models.ErrData)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	probes, err := s.probeCount(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", probes)); err != nil {
		return nil, classify(err)
	}

	expr := s.vectorExpr()
	query := `SELECT ` + pgChunkColumns + `, 1 - (` + expr + ` <=> $1) AS score FROM chunks WHERE embedding IS NOT NULL`
	args := []any{s.queryVector(vec)}
	if opts.DocID != "" {
		args = append(args, opts.DocID)
		query += fmt.Sprintf(" AND doc_id = $%d", len(args))
	}
	if n := len(opts.SectionPrefix); n > 0 {
		args = append(args, opts.SectionPrefix)
		query += fmt.Sprintf(" AND section_path @> $%d AND section_path[1:%d] = $%d", len(args), n, len(args))
	}
	args = append(args, opts.TopK)
	query += fmt.Sprintf(" ORDER BY %s <=> $1, chunk_index, chunk_id LIMIT $%d", expr, len(args))

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	hits = []*Hit{}
	for rows.Next() {
		var score float64
		c, err := scanPgChunk(rows, &score)
		if err != nil {
			return nil, err
		}
		hits = append(hits, &Hit{Chunk: c, Score: clampScore(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return hits, nil
}

func clampScore(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// CountDocuments returns the total number of documents.
func (s *PostgresStorage) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, classify(err)
}

// CountChunks returns the total number of chunks.
func (s *PostgresStorage) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, classify(err)
}

// CountEmbedded returns the number of chunks that have an embedding.
func (s *PostgresStorage) CountEmbedded(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL`).Scan(&n)
	return n, classify(err)
}

// Close releases the connection pool.
func (s *PostgresStorage) Close() error {
	s.db.Close()
	return nil
}
