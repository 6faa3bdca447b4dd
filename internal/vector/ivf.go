package vector

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/zap"
)

const (
	kmeansIterations = 10
	maxTrainSample   = 50000
)

// AutoLists derives the number of inverted lists from the corpus size:
// rows/1000 clamped to [10, 4000].
func AutoLists(rows int) int {
	lists := rows / 1000
	if lists < 10 {
		lists = 10
	}
	if lists > 4000 {
		lists = 4000
	}
	return lists
}

// AutoProbes returns sqrt(lists), at least 1.
func AutoProbes(lists int) int {
	p := int(math.Sqrt(float64(lists)))
	if p < 1 {
		p = 1
	}
	return p
}

// IVFIndex is an inverted-file index: vectors are clustered around centroids
// trained with spherical k-means and a query only scans the lists of its
// nearest centroids. Below the training threshold search stays exact.
// Training happens lazily on the first search after the index has grown past
// the threshold, and again whenever it has doubled since the last training.
type IVFIndex struct {
	mu             sync.RWMutex
	store          *store
	lists          int
	probes         int
	trainThreshold int
	logger         *zap.Logger

	centroids   [][]float32
	members     []map[string]struct{}
	assignment  map[string]int
	trainedSize int
}

// IVFOption configures an IVFIndex.
type IVFOption func(*IVFIndex)

// WithLists fixes the number of lists. Zero derives it with AutoLists.
func WithLists(n int) IVFOption { return func(x *IVFIndex) { x.lists = n } }

// WithProbes fixes the number of lists scanned per query. Zero uses AutoProbes.
func WithProbes(n int) IVFOption { return func(x *IVFIndex) { x.probes = n } }

// WithTrainThreshold sets the size below which search stays exact. Zero keeps the default.
func WithTrainThreshold(n int) IVFOption {
	return func(x *IVFIndex) {
		if n > 0 {
			x.trainThreshold = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IVFOption { return func(x *IVFIndex) { x.logger = l } }

// NewIVFIndex creates an IVF index with the given dimension.
func NewIVFIndex(dimensions int, opts ...IVFOption) (*IVFIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	x := &IVFIndex{store: newStore(dimensions), trainThreshold: 5000}
	for _, opt := range opts {
		opt(x)
	}
	if x.logger == nil {
		x.logger = zap.NewNop()
	}
	return x, nil
}

// Type returns the index type identifier.
func (x *IVFIndex) Type() string { return string(IndexTypeIVF) }

// Trained reports whether centroids exist.
func (x *IVFIndex) Trained() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.centroids != nil
}

// Lists returns the number of trained lists, or 0 before training.
func (x *IVFIndex) Lists() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.centroids)
}

// Add inserts or replaces entries and files them under their nearest centroid.
func (x *IVFIndex) Add(ctx context.Context, entries []Entry) error {
	if err := x.store.validate(entries); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, e := range entries {
		x.unassign(e.ID)
		stored := x.store.put(e)
		if x.centroids != nil {
			x.assign(stored)
		}
	}
	return nil
}

func (x *IVFIndex) assign(e *Entry) {
	best := nearest(x.centroids, e.Vector)
	x.members[best][e.ID] = struct{}{}
	x.assignment[e.ID] = best
}

func (x *IVFIndex) unassign(id string) {
	if x.assignment == nil {
		return
	}
	if l, ok := x.assignment[id]; ok {
		delete(x.members[l], id)
		delete(x.assignment, id)
	}
}

func (x *IVFIndex) needsTraining() bool {
	n := len(x.store.entries)
	if n < x.trainThreshold || n == 0 {
		return false
	}
	return x.centroids == nil || n >= 2*x.trainedSize
}

// Train clusters the current vectors. It is called lazily by Search.
func (x *IVFIndex) Train(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.train(ctx)
}

func (x *IVFIndex) train(ctx context.Context) error {
	n := len(x.store.entries)
	if n == 0 {
		return nil
	}
	lists := x.lists
	if lists <= 0 {
		lists = AutoLists(n)
	}
	if lists > n {
		lists = n
	}
	sample := x.sample()
	// Seeds come from a fixed-seed permutation so training is reproducible.
	rng := rand.New(rand.NewSource(int64(n)))
	centroids := make([][]float32, lists)
	for i, j := range rng.Perm(len(sample))[:lists] {
		centroids[i] = append([]float32(nil), sample[j]...)
	}

	dims := x.store.dimensions
	for iter := 0; iter < kmeansIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		sums := make([][]float64, lists)
		counts := make([]int, lists)
		for _, v := range sample {
			c := nearest(centroids, v)
			if sums[c] == nil {
				sums[c] = make([]float64, dims)
			}
			for j, f := range v {
				sums[c][j] += float64(f)
			}
			counts[c]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			mean := make([]float32, dims)
			for j, s := range sums[c] {
				mean[j] = float32(s / float64(counts[c]))
			}
			centroids[c] = Normalize(mean)
		}
	}

	x.centroids = centroids
	x.members = make([]map[string]struct{}, lists)
	for i := range x.members {
		x.members[i] = make(map[string]struct{})
	}
	x.assignment = make(map[string]int, n)
	for _, e := range x.store.entries {
		x.assign(e)
	}
	x.trainedSize = n
	x.logger.Info("trained vector index",
		zap.Int("vectors", n),
		zap.Int("lists", lists),
		zap.Int("sample", len(sample)))
	return nil
}

// sample picks evenly spaced vectors, at most maxTrainSample.
func (x *IVFIndex) sample() [][]float32 {
	n := len(x.store.entries)
	size := n
	if size > maxTrainSample {
		size = maxTrainSample
	}
	out := make([][]float32, size)
	step := float64(n) / float64(size)
	for i := range out {
		out[i] = x.store.entries[int(float64(i)*step)].Vector
	}
	return out
}

func nearest(centroids [][]float32, v []float32) int {
	best, bestScore := 0, math.Inf(-1)
	for i, c := range centroids {
		if s := InnerProduct(c, v); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

func (x *IVFIndex) probeCount() int {
	p := x.probes
	if p <= 0 {
		p = AutoProbes(len(x.centroids))
	}
	if p > len(x.centroids) {
		p = len(x.centroids)
	}
	return p
}

// Search returns the k entries most similar to query that pass filter. A
// document filter, an untrained index, or too few hits in the probed lists
// fall back to an exact scan.
func (x *IVFIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]*Result, error) {
	q, err := x.store.checkQuery(query)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []*Result{}, nil
	}
	x.mu.RLock()
	train := x.needsTraining()
	x.mu.RUnlock()
	if train {
		x.mu.Lock()
		if x.needsTraining() {
			err = x.train(ctx)
		}
		x.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.centroids == nil || filter.DocID != "" {
		return topK(x.store.exact(q, filter), k), nil
	}

	order := make([]int, len(x.centroids))
	scores := make([]float64, len(x.centroids))
	for i, c := range x.centroids {
		order[i] = i
		scores[i] = InnerProduct(c, q)
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	var results []*Result
	for _, l := range order[:x.probeCount()] {
		for id := range x.members[l] {
			if e := x.store.get(id); e != nil && filter.Match(e) {
				results = append(results, x.store.score(e, q))
			}
		}
	}
	if len(results) < k && len(results) < len(x.store.entries) {
		results = x.store.exact(q, filter)
	}
	return topK(results, k), nil
}

// Remove deletes entries by ID.
func (x *IVFIndex) Remove(ctx context.Context, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		x.unassign(id)
		x.store.remove(id)
	}
	return nil
}

// RemoveDocument deletes every entry of a document.
func (x *IVFIndex) RemoveDocument(ctx context.Context, docID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range x.store.docIDs(docID) {
		x.unassign(id)
		x.store.remove(id)
	}
	return nil
}

// Save persists the entries; centroids are retrained after Load.
func (x *IVFIndex) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return saveEntries(path, x.store.dimensions, x.store.entries)
}

// Load replaces the contents with the entries stored at path. A missing file
// leaves the index unchanged.
func (x *IVFIndex) Load(path string) error {
	entries, err := loadEntries(path, x.store.dimensions)
	if err != nil || entries == nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.store = newStore(x.store.dimensions)
	x.centroids, x.members, x.assignment, x.trainedSize = nil, nil, nil, 0
	for _, e := range entries {
		x.store.put(e)
	}
	return nil
}

// Size returns the number of vectors.
func (x *IVFIndex) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.store.entries)
}

// Dimensions returns the vector size.
func (x *IVFIndex) Dimensions() int { return x.store.dimensions }

// Close is a no-op.
func (x *IVFIndex) Close() error { return nil }
