package search

import (
	"sort"

	"github.com/hyperjump/pravo/internal/storage"
)

// FilterByThreshold drops hits scoring below threshold, keeping order.
func FilterByThreshold(hits []*storage.Hit, threshold float64) []*storage.Hit {
	out := make([]*storage.Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	return out
}

// SortHits orders hits by score descending, then chunk_index and chunk_id ascending.
func SortHits(hits []*storage.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.ChunkIndex != b.Chunk.ChunkIndex {
			return a.Chunk.ChunkIndex < b.Chunk.ChunkIndex
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}
