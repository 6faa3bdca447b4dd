package storage

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/pravo/internal/config"
	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/vector"
)

func newMockStore(t *testing.T, cfg config.StorageConfig, dims int) (*PostgresStorage, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return NewPostgresStorageWithDB(mockPool, cfg, dims), mockPool
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var chunkRowColumns = []string{"chunk_id", "doc_id", "chunk_text", "section_path", "chunk_index",
	"char_start", "char_end", "tokens", "metadata", "content_hash", "created_at", "updated_at"}

func TestPostgresStorage_Documents(t *testing.T) {
	t.Run("Should upsert a document", func(t *testing.T) {
		store, mockPool := newMockStore(t, config.StorageConfig{}, 4)
		mockPool.ExpectExec("INSERT INTO documents").
			WithArgs(anyArgs(15)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		doc := testDoc("doc1")
		require.NoError(t, store.UpsertDocument(context.Background(), doc))
		assert.False(t, doc.CreatedAt.IsZero())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should return a stored document", func(t *testing.T) {
		store, mockPool := newMockStore(t, config.StorageConfig{}, 4)
		now := time.Now()
		rows := mockPool.NewRows([]string{"doc_id", "title", "act_number", "date", "authority", "url",
			"source", "file_type", "file_path", "text_length", "needs_ocr", "reference_block", "metadata",
			"created_at", "updated_at"}).
			AddRow("doc1", "Zakon o radu", "24/2005", "2005-03-15", "Skupština", "", "", "pdf",
				"/laws/a.pdf", 1200, false, "", []byte(`{"page_count":3}`), now, now)
		mockPool.ExpectQuery("SELECT (.+) FROM documents WHERE doc_id").
			WithArgs("doc1").
			WillReturnRows(rows)

		doc, err := store.GetDocument(context.Background(), "doc1")
		require.NoError(t, err)
		assert.Equal(t, "Zakon o radu", doc.Title)
		assert.Equal(t, "2005-03-15", doc.Date)
		assert.Equal(t, models.FileTypePDF, doc.FileType)
		assert.Equal(t, float64(3), doc.Metadata["page_count"])
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should report a missing document", func(t *testing.T) {
		store, mockPool := newMockStore(t, config.StorageConfig{}, 4)
		mockPool.ExpectQuery("SELECT (.+) FROM documents WHERE doc_id").
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.GetDocument(context.Background(), "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should report deleting a missing document", func(t *testing.T) {
		store, mockPool := newMockStore(t, config.StorageConfig{}, 4)
		mockPool.ExpectExec("DELETE FROM documents").
			WithArgs("missing").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err := store.DeleteDocument(context.Background(), "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStorage_UpsertChunks(t *testing.T) {
	t.Run("Should insert new chunks and skip unchanged ones", func(t *testing.T) {
		store, mockPool := newMockStore(t, config.StorageConfig{CommitBatchSize: 10}, 4)
		chunks := []*models.Chunk{
			testChunk("doc1", 0, []float32{1, 0, 0, 0}),
			testChunk("doc1", 1, []float32{0, 1, 0, 0}),
		}
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("SELECT chunk_id, content_hash").
			WithArgs([]string{"doc1_chunk_0", "doc1_chunk_1"}).
			WillReturnRows(mockPool.NewRows([]string{"chunk_id", "content_hash", "embedded"}).
				AddRow("doc1_chunk_0", "hash-0", true))
		mockPool.ExpectExec("INSERT INTO chunks").
			WithArgs(anyArgs(13)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		stats, err := store.UpsertChunks(context.Background(), chunks)
		require.NoError(t, err)
		assert.Equal(t, UpsertStats{Inserted: 1, Unchanged: 1}, stats)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should update a chunk whose content changed", func(t *testing.T) {
		store, mockPool := newMockStore(t, config.StorageConfig{}, 4)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("SELECT chunk_id, content_hash").
			WithArgs([]string{"doc1_chunk_0"}).
			WillReturnRows(mockPool.NewRows([]string{"chunk_id", "content_hash", "embedded"}).
				AddRow("doc1_chunk_0", "stale", true))
		mockPool.ExpectExec("UPDATE chunks SET").
			WithArgs(anyArgs(12)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		stats, err := store.UpsertChunks(context.Background(), []*models.Chunk{testChunk("doc1", 0, []float32{1, 0, 0, 0})})
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Updated)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should roll back and mark deadlocks transient", func(t *testing.T) {
		store, mockPool := newMockStore(t, config.StorageConfig{}, 4)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("SELECT chunk_id, content_hash").
			WithArgs([]string{"doc1_chunk_0"}).
			WillReturnRows(mockPool.NewRows([]string{"chunk_id", "content_hash", "embedded"}))
		mockPool.ExpectExec("INSERT INTO chunks").
			WithArgs(anyArgs(13)...).
			WillReturnError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
		mockPool.ExpectRollback()

		_, err := store.UpsertChunks(context.Background(), []*models.Chunk{testChunk("doc1", 0, nil)})
		assert.ErrorIs(t, err, models.ErrTransient)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStorage_ReplaceChunks(t *testing.T) {
	store, mockPool := newMockStore(t, config.StorageConfig{}, 4)
	mockPool.ExpectBegin()
	mockPool.ExpectExec("DELETE FROM chunks WHERE doc_id").
		WithArgs("doc1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mockPool.ExpectExec("INSERT INTO chunks").
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec("INSERT INTO chunks").
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()

	err := store.ReplaceChunks(context.Background(), "doc1", []*models.Chunk{
		testChunk("doc1", 0, nil),
		testChunk("doc1", 1, nil),
	})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStorage_Checkpoint(t *testing.T) {
	store, mockPool := newMockStore(t, config.StorageConfig{}, 4)
	mockPool.ExpectQuery("SELECT chunk_index").
		WithArgs("doc1").
		WillReturnRows(mockPool.NewRows([]string{"chunk_index", "embedded"}).
			AddRow(0, true).
			AddRow(1, true).
			AddRow(2, false).
			AddRow(3, true))

	cp, err := store.Checkpoint(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, 1, cp)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresStorage_SearchSimilar(t *testing.T) {
	t.Run("Should search with probes and filters", func(t *testing.T) {
		store, mockPool := newMockStore(t, config.StorageConfig{IVFProbes: 4}, 4)
		now := time.Now()
		rows := mockPool.NewRows(append(chunkRowColumns, "score")).
			AddRow("doc1_chunk_0", "doc1", "Član 1", []string{"Glava I"}, 0, 0, 10, 3,
				[]byte(`{"overlap_chars":0}`), "hash-0", now, now, 0.92).
			AddRow("doc1_chunk_3", "doc1", "Član 4", []string{"Glava I", "Član 4"}, 3, 30, 40, 3,
				[]byte(`{"overlap_chars":5}`), "hash-3", now, now, 1.0000001)
		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("SET LOCAL ivfflat.probes = 4")).
			WillReturnResult(pgxmock.NewResult("SET", 0))
		mockPool.ExpectQuery(regexp.QuoteMeta("AND doc_id = $2 AND section_path @> $3 AND section_path[1:1] = $3")).
			WithArgs(pgxmock.AnyArg(), "doc1", []string{"Glava I"}, 5).
			WillReturnRows(rows)
		mockPool.ExpectRollback()

		hits, err := store.SearchSimilar(context.Background(), []float32{1, 0, 0, 0}, SearchOptions{
			TopK:          5,
			DocID:         "doc1",
			SectionPrefix: []string{"Glava I"},
		})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "doc1_chunk_0", hits[0].Chunk.ID)
		assert.InDelta(t, 0.92, hits[0].Score, 1e-9)
		assert.Equal(t, 1.0, hits[1].Score)
		assert.Equal(t, 5, hits[1].Chunk.OverlapChars)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should reject a query of the wrong dimension", func(t *testing.T) {
		store, mockPool := newMockStore(t, config.StorageConfig{}, 4)
		_, err := store.SearchSimilar(context.Background(), []float32{1, 0}, SearchOptions{TopK: 5})
		assert.ErrorIs(t, err, models.ErrData)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStorage_BuildVectorIndex(t *testing.T) {
	t.Run("Should index wide embeddings as halfvec", func(t *testing.T) {
		store, mockPool := newMockStore(t, config.StorageConfig{}, 3072)
		mockPool.ExpectQuery("SELECT COUNT").
			WillReturnRows(mockPool.NewRows([]string{"count"}).AddRow(int64(20000)))
		mockPool.ExpectExec("DROP INDEX IF EXISTS chunks_embedding_ivf").
			WillReturnResult(pgxmock.NewResult("DROP INDEX", 0))
		mockPool.ExpectExec(regexp.QuoteMeta(
			"CREATE INDEX chunks_embedding_ivf ON chunks USING ivfflat ((embedding::halfvec(3072)) halfvec_cosine_ops) WITH (lists = 20)")).
			WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

		info, err := store.BuildVectorIndex(context.Background())
		require.NoError(t, err)
		assert.Equal(t, IndexInfo{Vectors: 20000, Lists: 20}, info)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should derive probes from the lists used", func(t *testing.T) {
		store, mockPool := newMockStore(t, config.StorageConfig{IVFLists: 100}, 4)
		mockPool.ExpectQuery("SELECT COUNT").
			WillReturnRows(mockPool.NewRows([]string{"count"}).AddRow(int64(50)))
		mockPool.ExpectExec("DROP INDEX").
			WillReturnResult(pgxmock.NewResult("DROP INDEX", 0))
		mockPool.ExpectExec(regexp.QuoteMeta("(embedding::vector(4)) vector_cosine_ops) WITH (lists = 100)")).
			WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta(fmt.Sprintf("SET LOCAL ivfflat.probes = %d", vector.AutoProbes(100)))).
			WillReturnResult(pgxmock.NewResult("SET", 0))
		mockPool.ExpectQuery("SELECT (.+) FROM chunks WHERE embedding IS NOT NULL").
			WithArgs(pgxmock.AnyArg(), 3).
			WillReturnRows(mockPool.NewRows(append(chunkRowColumns, "score")))
		mockPool.ExpectRollback()

		_, err := store.BuildVectorIndex(context.Background())
		require.NoError(t, err)
		hits, err := store.SearchSimilar(context.Background(), []float32{0, 0, 1, 0}, SearchOptions{TopK: 3})
		require.NoError(t, err)
		assert.Empty(t, hits)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
