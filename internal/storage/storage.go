// Package storage persists documents and chunks and answers similarity queries.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/pravo/internal/config"
	"github.com/hyperjump/pravo/internal/models"
)

// Storage defines document and chunk persistence operations. Upserts are
// idempotent: writing the same document or chunk twice never duplicates rows.
type Storage interface {
	// Document operations
	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// Chunk operations
	ChunkStates(ctx context.Context, ids []string) (map[string]models.ChunkState, error)
	UpsertChunks(ctx context.Context, chunks []*models.Chunk) (UpsertStats, error)
	ReplaceChunks(ctx context.Context, docID string, chunks []*models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	DeleteChunksByDocumentID(ctx context.Context, docID string) error
	Checkpoint(ctx context.Context, docID string) (int, error)

	// Retrieval
	SearchSimilar(ctx context.Context, vec []float32, opts SearchOptions) ([]*Hit, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}

// VectorIndexer is implemented by backends whose vector index is built
// explicitly after bulk loads.
type VectorIndexer interface {
	BuildVectorIndex(ctx context.Context) (IndexInfo, error)
}

// IndexInfo describes a built vector index.
type IndexInfo struct {
	Vectors int64
	Lists   int
}

// SearchOptions narrows a similarity search.
type SearchOptions struct {
	TopK          int
	DocID         string
	SectionPrefix []string
}

// Hit is a chunk with its cosine similarity to the query.
type Hit struct {
	Chunk *models.Chunk
	Score float64
}

// UpsertStats counts what UpsertChunks did with each chunk.
type UpsertStats struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Add accumulates other into s.
func (s *UpsertStats) Add(other UpsertStats) {
	s.Inserted += other.Inserted
	s.Updated += other.Updated
	s.Unchanged += other.Unchanged
}

// New opens the backend selected by cfg.Storage.Driver, applying migrations first.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		return NewSQLiteStorage(ctx, cfg.Storage, cfg.Vector, cfg.Embedding.Dimensions, WithLogger(logger))
	case config.DriverPostgres:
		return NewPostgresStorage(ctx, cfg.Storage, cfg.Embedding.Dimensions, WithLogger(logger))
	}
	return nil, fmt.Errorf("unknown storage driver %q: %w", cfg.Storage.Driver, models.ErrFatal)
}

// Option configures a storage backend.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Postgres error codes worth retrying.
var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P03": true, // cannot_connect_now
}

// classify marks contention and connection failures as models.ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %w", models.ErrTransient, err)
		}
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if transientPgCodes[pgErr.Code] || len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return fmt.Errorf("%w: %w", models.ErrTransient, err)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", models.ErrTransient, err)
	}
	return err
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s not found: %s: %w", kind, id, models.ErrNotFound)
}

// batches splits n items into [start, end) ranges of at most size.
func batches(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// chunkAction decides what an upsert does with c given the stored state.
type chunkAction int

const (
	actionInsert chunkAction = iota
	actionUpdate
	actionSkip
)

func decide(c *models.Chunk, state models.ChunkState, exists bool) chunkAction {
	switch {
	case !exists:
		return actionInsert
	case state.ContentHash == c.ContentHash && (state.Embedded || c.Embedding == nil):
		return actionSkip
	default:
		return actionUpdate
	}
}
