package vector

import (
	"context"
	"fmt"
	"sync"
)

// store holds entries with normalized vectors. It is not synchronized.
type store struct {
	dimensions int
	entries    []*Entry
	pos        map[string]int
	byDoc      map[string]map[string]struct{}
}

func newStore(dimensions int) *store {
	return &store{
		dimensions: dimensions,
		pos:        make(map[string]int),
		byDoc:      make(map[string]map[string]struct{}),
	}
}

func (s *store) validate(entries []Entry) error {
	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("entry without id")
		}
		if len(e.Vector) != s.dimensions {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", e.ID, len(e.Vector), s.dimensions)
		}
	}
	return nil
}

// put inserts or replaces e and returns the stored copy.
func (s *store) put(e Entry) *Entry {
	stored := &Entry{
		ID:          e.ID,
		DocID:       e.DocID,
		SectionPath: append([]string(nil), e.SectionPath...),
		ChunkIndex:  e.ChunkIndex,
		Vector:      Normalize(e.Vector),
	}
	if i, ok := s.pos[e.ID]; ok {
		s.unlinkDoc(s.entries[i])
		s.entries[i] = stored
	} else {
		s.pos[e.ID] = len(s.entries)
		s.entries = append(s.entries, stored)
	}
	docs := s.byDoc[stored.DocID]
	if docs == nil {
		docs = make(map[string]struct{})
		s.byDoc[stored.DocID] = docs
	}
	docs[stored.ID] = struct{}{}
	return stored
}

func (s *store) remove(id string) bool {
	i, ok := s.pos[id]
	if !ok {
		return false
	}
	s.unlinkDoc(s.entries[i])
	last := len(s.entries) - 1
	if i != last {
		s.entries[i] = s.entries[last]
		s.pos[s.entries[i].ID] = i
	}
	s.entries[last] = nil
	s.entries = s.entries[:last]
	delete(s.pos, id)
	return true
}

func (s *store) unlinkDoc(e *Entry) {
	if docs := s.byDoc[e.DocID]; docs != nil {
		delete(docs, e.ID)
		if len(docs) == 0 {
			delete(s.byDoc, e.DocID)
		}
	}
}

func (s *store) docIDs(docID string) []string {
	docs := s.byDoc[docID]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	return ids
}

func (s *store) get(id string) *Entry {
	if i, ok := s.pos[id]; ok {
		return s.entries[i]
	}
	return nil
}

func (s *store) score(e *Entry, query []float32) *Result {
	return &Result{ID: e.ID, DocID: e.DocID, ChunkIndex: e.ChunkIndex, Score: clamp(InnerProduct(query, e.Vector))}
}

// exact scans every entry passing filter. A document filter only visits that document.
func (s *store) exact(query []float32, filter Filter) []*Result {
	var results []*Result
	if filter.DocID != "" {
		for id := range s.byDoc[filter.DocID] {
			if e := s.get(id); e != nil && filter.Match(e) {
				results = append(results, s.score(e, query))
			}
		}
		return results
	}
	for _, e := range s.entries {
		if filter.Match(e) {
			results = append(results, s.score(e, query))
		}
	}
	return results
}

func (s *store) checkQuery(query []float32) ([]float32, error) {
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), s.dimensions)
	}
	return Normalize(query), nil
}

// MemoryIndex is an exact, brute-force cosine index.
type MemoryIndex struct {
	mu    sync.RWMutex
	store *store
}

// NewMemoryIndex creates an exact in-memory index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{store: newStore(dimensions)}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Add inserts or replaces entries.
func (m *MemoryIndex) Add(ctx context.Context, entries []Entry) error {
	if err := m.store.validate(entries); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.store.put(e)
	}
	return nil
}

// Search returns the k entries most similar to query that pass filter.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]*Result, error) {
	q, err := m.store.checkQuery(query)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		return []*Result{}, nil
	}
	return topK(m.store.exact(q, filter), k), nil
}

// Remove deletes entries by ID. Unknown IDs are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.store.remove(id)
	}
	return nil
}

// RemoveDocument deletes every entry of a document.
func (m *MemoryIndex) RemoveDocument(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.store.docIDs(docID) {
		m.store.remove(id)
	}
	return nil
}

// Save persists the entries to path.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return saveEntries(path, m.store.dimensions, m.store.entries)
}

// Load replaces the contents with the entries stored at path. A missing file
// leaves the index unchanged.
func (m *MemoryIndex) Load(path string) error {
	entries, err := loadEntries(path, m.store.dimensions)
	if err != nil || entries == nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = newStore(m.store.dimensions)
	for _, e := range entries {
		m.store.put(e)
	}
	return nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store.entries)
}

// Dimensions returns the vector size.
func (m *MemoryIndex) Dimensions() int { return m.store.dimensions }

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
