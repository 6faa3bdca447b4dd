// Package vector provides the in-process cosine similarity indexes used by the
// sqlite storage backend.
package vector

import (
	"context"
	"sort"
	"strings"
)

// Entry is one embedded chunk as the index sees it.
type Entry struct {
	ID          string
	DocID       string
	SectionPath []string
	ChunkIndex  int
	Vector      []float32
}

// Filter restricts a search to one document and/or a section path prefix.
type Filter struct {
	DocID         string
	SectionPrefix []string
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return f.DocID == "" && len(f.SectionPrefix) == 0
}

// Match reports whether e passes the filter.
func (f Filter) Match(e *Entry) bool {
	if f.DocID != "" && e.DocID != f.DocID {
		return false
	}
	if len(f.SectionPrefix) > len(e.SectionPath) {
		return false
	}
	for i, p := range f.SectionPrefix {
		if e.SectionPath[i] != p {
			return false
		}
	}
	return true
}

// Result is a single search hit. Score is the cosine similarity in [-1, 1].
type Result struct {
	ID         string
	DocID      string
	ChunkIndex int
	Score      float64
}

// Index stores chunk vectors and answers top-k cosine queries.
type Index interface {
	// Add inserts entries, replacing any with the same ID.
	Add(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]*Result, error)
	Remove(ctx context.Context, ids []string) error
	RemoveDocument(ctx context.Context, docID string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Close() error
}

// SortResults orders by score desc, then chunk index asc, then id asc.
func SortResults(results []*Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		return strings.Compare(a.ID, b.ID) < 0
	})
}

func topK(results []*Result, k int) []*Result {
	SortResults(results)
	if k < len(results) {
		results = results[:k]
	}
	return results
}
