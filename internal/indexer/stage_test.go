package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/pravo/internal/config"
	"github.com/hyperjump/pravo/internal/embedding"
	"github.com/hyperjump/pravo/internal/fileid"
	"github.com/hyperjump/pravo/internal/models"
	"github.com/hyperjump/pravo/internal/ndjson"
	"github.com/hyperjump/pravo/internal/storage"
	"github.com/hyperjump/pravo/internal/tokens"
)

const testDims = 8

// countingEmbedder counts provider calls and fails every call after failAfter.
type countingEmbedder struct {
	*embedding.MockEmbedder
	mu        sync.Mutex
	calls     int
	texts     int
	failAfter int
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(testDims)}
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	if e.failAfter > 0 && e.calls > e.failAfter {
		e.mu.Unlock()
		return nil, fmt.Errorf("invalid api key: %w", models.ErrFatal)
	}
	e.texts += len(texts)
	e.mu.Unlock()
	return e.MockEmbedder.EmbedBatch(ctx, texts)
}

func (e *countingEmbedder) counts() (calls, texts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls, e.texts
}

func newTestStore(t *testing.T, dir string) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(context.Background(), config.StorageConfig{
		DatabasePath: filepath.Join(dir, "pravo.db"),
	}, config.VectorConfig{IndexType: "memory"}, testDims)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestEmbedStage(store storage.Storage, e embedding.Embedder) *EmbedStage {
	gen := embedding.NewGenerator(e, nil, embedding.RetryPolicy{MaxAttempts: 1}, embedding.WithBatchSize(100))
	return NewEmbedStage(store, gen, embedding.RetryPolicy{MaxAttempts: 1})
}

func testLawText() string {
	return "Розділ I. ЗАГАЛЬНІ ПОЛОЖЕННЯ\n\n" +
		"Стаття 1. Загальні положення\n" + sentences("право", 1, 6) + "1\n\f" +
		sentences("право", 7, 12) + "2\n\f" +
		"Стаття 2. Гарантії\n" + sentences("гарантію", 1, 12) + "3\n"
}

func writeRecords(t *testing.T, path string, records ...interface{}) {
	t.Helper()
	w, err := ndjson.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteAll(records...); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatal(err)
	}
}

func readChunkRecords(t *testing.T, path string) []*models.ChunkRecord {
	t.Helper()
	var out []*models.ChunkRecord
	err := ndjson.EachFile(context.Background(), path, func(_ int, rec *models.ChunkRecord) error {
		out = append(out, rec)
		return nil
	}, func(le *ndjson.LineError) { t.Errorf("bad chunk line: %v", le) })
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func testChunks(docID string, texts ...string) []interface{} {
	out := make([]interface{}, len(texts))
	for i, text := range texts {
		c := &models.Chunk{
			ID:          fileid.ChunkID(docID, i),
			DocumentID:  docID,
			Text:        text,
			SectionPath: []string{"Стаття 1"},
			ChunkIndex:  i,
			Tokens:      len(text) / 4,
			ContentHash: fileid.ContentHash(text),
		}
		out[i] = c.Record()
	}
	return out
}

func testDocument(id string) *models.Document {
	return &models.Document{
		ID:       id,
		Title:    "Закон " + id,
		FileType: models.FileTypePDF,
		FilePath: "/laws/" + id + ".pdf",
	}
}

func TestDocsPath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"out/chunks.ndjson", "out/chunks.docs.ndjson"},
		{"chunks", "chunks.docs.ndjson"},
		{"/tmp/a.b.jsonl", "/tmp/a.b.docs.ndjson"},
	}
	for _, tt := range tests {
		if got := DocsPath(tt.in); got != tt.want {
			t.Errorf("DocsPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChunkStage_Run(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "docs.ndjson")
	output := filepath.Join(dir, "chunks.ndjson")

	law := testDocument("law")
	scan := testDocument("scan")
	scan.NeedsOCR = true
	short := testDocument("short")
	writeRecords(t, input,
		models.NewDocumentRecord(law, testLawText()),
		models.NewDocumentRecord(scan, ""),
		models.NewDocumentRecord(short, "Коротко."),
	)
	appendLine(t, input, "{not json")

	stage := NewChunkStage(NewChunker(tokens.WordCounter{}, 200, 0.15), 50, WithWorkers(3))
	sum, err := stage.Run(context.Background(), input, output)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 1 || sum.Skipped != 3 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if want := []string{"line:4", "scan", "short"}; !reflect.DeepEqual(sum.SkippedIDs, want) {
		t.Errorf("skipped = %v, want %v", sum.SkippedIDs, want)
	}
	if sum.Reasons["scan"] != "needs OCR" {
		t.Errorf("scan reason = %q", sum.Reasons["scan"])
	}

	chunks := readChunkRecords(t, output)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunk records, want 2", len(chunks))
	}
	for i, c := range chunks {
		if c.DocID != "law" || c.ChunkID != fileid.ChunkID("law", i) || c.Metadata.ChunkIndex != i {
			t.Errorf("chunk %d = %s/%s index %d", i, c.DocID, c.ChunkID, c.Metadata.ChunkIndex)
		}
		if c.Metadata.ContentHash != fileid.ContentHash(c.Text) {
			t.Errorf("chunk %d content hash mismatch", i)
		}
	}

	docs := map[string]*models.Document{}
	err = ndjson.EachFile(context.Background(), DocsPath(output), func(_ int, d *models.Document) error {
		docs[d.ID] = d
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("sidecar has %d documents, want 3", len(docs))
	}
	if got := docs["law"].MetaString(models.MetaChunkCount); got != "2" {
		t.Errorf("law chunk_count = %q", got)
	}
	if !docs["scan"].NeedsOCR || docs["scan"].MetaString(models.MetaChunkCount) != "0" {
		t.Errorf("scan document = %+v", docs["scan"])
	}
}

func TestChunkStage_missingInput(t *testing.T) {
	dir := t.TempDir()
	stage := NewChunkStage(NewChunker(tokens.WordCounter{}, 200, 0.15), 50)
	sum, err := stage.Run(context.Background(), filepath.Join(dir, "missing.ndjson"), filepath.Join(dir, "chunks.ndjson"))
	if !errors.Is(err, models.ErrFatal) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if sum.Aborted == "" {
		t.Error("summary should record the abort")
	}
}

func TestEmbedStage_chunkedOutputIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	input := filepath.Join(dir, "docs.ndjson")
	chunksPath := filepath.Join(dir, "chunks.ndjson")
	scan := testDocument("scan")
	scan.NeedsOCR = true
	writeRecords(t, input,
		models.NewDocumentRecord(testDocument("law"), testLawText()),
		models.NewDocumentRecord(scan, ""),
	)
	if _, err := NewChunkStage(NewChunker(tokens.WordCounter{}, 200, 0.15), 50).Run(ctx, input, chunksPath); err != nil {
		t.Fatal(err)
	}

	store := newTestStore(t, dir)
	emb := newCountingEmbedder()
	stage := newTestEmbedStage(store, emb).BuildIndexAfterRun(true)

	sum, err := stage.Run(ctx, chunksPath)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 2 || sum.Unchanged != 0 {
		t.Errorf("first run summary = %+v", sum)
	}
	if n, _ := store.CountDocuments(ctx); n != 2 {
		t.Errorf("documents = %d, want 2", n)
	}
	if n, _ := store.CountEmbedded(ctx); n != 2 {
		t.Errorf("embedded = %d, want 2", n)
	}
	doc, err := store.GetDocument(ctx, "scan")
	if err != nil {
		t.Fatal(err)
	}
	if !doc.NeedsOCR {
		t.Error("scan should be stored with needs_ocr")
	}

	calls, _ := emb.counts()
	sum, err = stage.Run(ctx, chunksPath)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 0 || sum.Unchanged != 2 {
		t.Errorf("second run summary = %+v", sum)
	}
	if again, _ := emb.counts(); again != calls {
		t.Errorf("second run called the provider %d times", again-calls)
	}
	if n, _ := store.CountChunks(ctx); n != 2 {
		t.Errorf("chunks = %d, want 2", n)
	}
}

func TestEmbedStage_resumesAfterAbort(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	input := filepath.Join(dir, "chunks.ndjson")
	texts := make([]string, 1000)
	for i := range texts {
		texts[i] = fmt.Sprintf("Стаття %d. Положення номер %d набирає чинності.", i+1, i+1)
	}
	writeRecords(t, input, testChunks("law", texts...)...)
	writeRecords(t, DocsPath(input), testDocument("law"))

	store := newTestStore(t, dir)
	failing := newCountingEmbedder()
	failing.failAfter = 6
	sum, err := newTestEmbedStage(store, failing).Run(ctx, input)
	if !errors.Is(err, models.ErrFatal) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if sum.Aborted == "" || sum.Succeeded != 600 {
		t.Errorf("aborted run summary = %+v", sum)
	}
	if n, _ := store.CountEmbedded(ctx); n != 600 {
		t.Fatalf("embedded after abort = %d, want 600", n)
	}
	if cp, _ := store.Checkpoint(ctx, "law"); cp != 599 {
		t.Errorf("checkpoint = %d, want 599", cp)
	}

	before, err := store.GetChunksByDocumentID(ctx, "law")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	emb := newCountingEmbedder()
	sum, err = newTestEmbedStage(store, emb).Run(ctx, input)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 400 || sum.Unchanged != 600 {
		t.Errorf("resumed run summary = %+v", sum)
	}
	if calls, n := emb.counts(); calls != 4 || n != 400 {
		t.Errorf("provider calls = %d with %d texts, want 4 with 400", calls, n)
	}
	after, err := store.GetChunksByDocumentID(ctx, "law")
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 1000 {
		t.Fatalf("stored chunks = %d", len(after))
	}
	for i := 0; i < 600; i++ {
		if !after[i].UpdatedAt.Equal(before[i].UpdatedAt) {
			t.Fatalf("chunk %d updated_at changed", i)
		}
		if !reflect.DeepEqual(after[i].Embedding, before[i].Embedding) {
			t.Fatalf("chunk %d vector changed", i)
		}
	}
	for i := 600; i < 1000; i++ {
		if after[i].Embedding == nil {
			t.Fatalf("chunk %d still without embedding", i)
		}
	}
}

func TestEmbedStage_replacesRechunkedDocument(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	input := filepath.Join(dir, "chunks.ndjson")
	writeRecords(t, input, testChunks("act", "перший фрагмент", "другий фрагмент", "третій фрагмент")...)
	writeRecords(t, DocsPath(input), testDocument("act"))

	store := newTestStore(t, dir)
	emb := newCountingEmbedder()
	stage := newTestEmbedStage(store, emb)
	if _, err := stage.Run(ctx, input); err != nil {
		t.Fatal(err)
	}
	first, err := store.GetChunk(ctx, fileid.ChunkID("act", 0))
	if err != nil {
		t.Fatal(err)
	}

	writeRecords(t, input, testChunks("act", "перший фрагмент", "змінений другий фрагмент")...)
	_, textsBefore := emb.counts()
	sum, err := stage.Run(ctx, input)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 1 || sum.Unchanged != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if _, texts := emb.counts(); texts-textsBefore != 1 {
		t.Errorf("re-embedded %d texts, want 1", texts-textsBefore)
	}
	chunks, err := store.GetChunksByDocumentID(ctx, "act")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("stored chunks = %d, want 2", len(chunks))
	}
	if !reflect.DeepEqual(chunks[0].Embedding, first.Embedding) {
		t.Error("unchanged chunk lost its embedding")
	}
	if chunks[1].Text != "змінений другий фрагмент" || chunks[1].Embedding == nil {
		t.Errorf("changed chunk = %q embedded=%v", chunks[1].Text, chunks[1].Embedding != nil)
	}
	doc, err := store.GetDocument(ctx, "act")
	if err != nil {
		t.Fatal(err)
	}
	if doc.MetaString(models.MetaChunkCount) != "2" {
		t.Errorf("chunk_count = %q", doc.MetaString(models.MetaChunkCount))
	}
}

func TestEmbedStage_reembedsChangedTextWithoutHash(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	input := filepath.Join(dir, "chunks.ndjson")
	record := func(text string) *models.ChunkRecord {
		return &models.ChunkRecord{
			ChunkID:  fileid.ChunkID("d1", 0),
			DocID:    "d1",
			Text:     text,
			Metadata: models.ChunkMetadata{SectionPath: []string{"Стаття 1"}, Tokens: 3},
		}
	}
	writeRecords(t, input, record("старий текст статті"))
	writeRecords(t, DocsPath(input), testDocument("d1"))

	store := newTestStore(t, dir)
	emb := newCountingEmbedder()
	stage := newTestEmbedStage(store, emb)
	if _, err := stage.Run(ctx, input); err != nil {
		t.Fatal(err)
	}

	writeRecords(t, input, record("новий текст статті зовсім інший"))
	callsBefore, _ := emb.counts()
	sum, err := stage.Run(ctx, input)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Succeeded != 1 || sum.Unchanged != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if calls, _ := emb.counts(); calls == callsBefore {
		t.Error("changed text was not re-embedded")
	}
	got, err := store.GetChunk(ctx, fileid.ChunkID("d1", 0))
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "новий текст статті зовсім інший" {
		t.Errorf("stored text = %q", got.Text)
	}
	if got.ContentHash != fileid.ContentHash(got.Text) {
		t.Errorf("stored hash = %q", got.ContentHash)
	}
	if !reflect.DeepEqual(got.Embedding, emb.Vector(got.Text)) {
		t.Error("stored embedding is not the embedding of the new text")
	}

	callsBefore, _ = emb.counts()
	sum, err = stage.Run(ctx, input)
	if err != nil {
		t.Fatal(err)
	}
	if calls, _ := emb.counts(); calls != callsBefore || sum.Unchanged != 1 {
		t.Errorf("rerun of the same text: summary = %+v, provider calls = %d", sum, calls-callsBefore)
	}
}

func TestEmbedStage_nonContiguousChunks(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	input := filepath.Join(dir, "chunks.ndjson")
	a := testChunks("a", "альфа", "бета")
	b := testChunks("b", "гамма")
	writeRecords(t, input, a[0], b[0], a[1])
	writeRecords(t, DocsPath(input), testDocument("a"), testDocument("b"))

	store := newTestStore(t, dir)
	sum, err := newTestEmbedStage(store, newCountingEmbedder()).Run(ctx, input)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 || sum.FailedIDs[0] != "a" {
		t.Errorf("summary = %+v", sum)
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	var mu sync.Mutex
	active := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			unlock := k.Lock(key)
			mu.Lock()
			active[key]++
			if active[key] > 1 {
				t.Errorf("key %s held twice", key)
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active[key]--
			mu.Unlock()
			unlock()
		}(fmt.Sprint(i % 4))
	}
	wg.Wait()
	if len(k.locks) != 0 {
		t.Errorf("%d lock entries left", len(k.locks))
	}
}
