package vector

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
)

// clustered returns n vectors scattered around `centers` random directions.
func clustered(rng *rand.Rand, n, dims, centers int) []Entry {
	cs := make([][]float32, centers)
	for i := range cs {
		cs[i] = make([]float32, dims)
		for j := range cs[i] {
			cs[i][j] = float32(rng.NormFloat64())
		}
	}
	out := make([]Entry, n)
	for i := range out {
		c := cs[i%centers]
		v := make([]float32, dims)
		for j := range v {
			v[j] = c[j] + float32(rng.NormFloat64()*0.15)
		}
		doc := fmt.Sprintf("d%d", i/10)
		out[i] = Entry{
			ID:          fmt.Sprintf("%s_chunk_%d", doc, i%10),
			DocID:       doc,
			ChunkIndex:  i % 10,
			SectionPath: []string{fmt.Sprintf("Розділ %d", i%3)},
			Vector:      v,
		}
	}
	return out
}

func TestIVFIndex_recall(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	entries := clustered(rng, 2000, 16, 4)
	ctx := context.Background()

	ivf, err := NewIVFIndex(16, WithLists(8), WithProbes(3), WithTrainThreshold(500))
	if err != nil {
		t.Fatal(err)
	}
	exact, _ := NewMemoryIndex(16)
	if err := ivf.Add(ctx, entries); err != nil {
		t.Fatal(err)
	}
	_ = exact.Add(ctx, entries)
	if ivf.Trained() {
		t.Fatal("index should train lazily")
	}

	hits, total := 0, 0
	for q := 0; q < 20; q++ {
		query := entries[rng.Intn(len(entries))].Vector
		got, err := ivf.Search(ctx, query, 10, Filter{})
		if err != nil {
			t.Fatal(err)
		}
		want, _ := exact.Search(ctx, query, 10, Filter{})
		seen := make(map[string]bool)
		for _, r := range got {
			seen[r.ID] = true
		}
		for _, r := range want {
			total++
			if seen[r.ID] {
				hits++
			}
		}
	}
	if !ivf.Trained() {
		t.Fatal("expected index to be trained after search")
	}
	if recall := float64(hits) / float64(total); recall < 0.9 {
		t.Errorf("recall@10 = %.2f, want >= 0.9", recall)
	}
}

func TestIVFIndex_exactBelowThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	entries := clustered(rng, 100, 8, 4)
	ctx := context.Background()
	ivf, _ := NewIVFIndex(8, WithTrainThreshold(1000))
	exact, _ := NewMemoryIndex(8)
	_ = ivf.Add(ctx, entries)
	_ = exact.Add(ctx, entries)

	query := entries[5].Vector
	got, _ := ivf.Search(ctx, query, 5, Filter{})
	want, _ := exact.Search(ctx, query, 5, Filter{})
	if fmt.Sprint(ids(got)) != fmt.Sprint(ids(want)) {
		t.Errorf("got %v, want %v", ids(got), ids(want))
	}
	if ivf.Trained() {
		t.Error("small index must not train")
	}
}

func TestIVFIndex_filtersAndUpdates(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	entries := clustered(rng, 600, 8, 6)
	ctx := context.Background()
	ivf, _ := NewIVFIndex(8, WithLists(6), WithProbes(1), WithTrainThreshold(100))
	_ = ivf.Add(ctx, entries)
	if err := ivf.Train(ctx); err != nil {
		t.Fatal(err)
	}

	// A document filter is answered exactly.
	got, _ := ivf.Search(ctx, entries[0].Vector, 20, Filter{DocID: "d3"})
	if len(got) != 10 {
		t.Fatalf("doc filter: got %d results, want 10", len(got))
	}
	for _, r := range got {
		if r.DocID != "d3" {
			t.Errorf("result %s outside filtered document", r.ID)
		}
	}

	// A section filter still returns k hits even if probed lists hold fewer.
	got, _ = ivf.Search(ctx, entries[0].Vector, 50, Filter{SectionPrefix: []string{"Розділ 1"}})
	if len(got) != 50 {
		t.Errorf("section filter: got %d results, want 50", len(got))
	}

	// Entries added after training are searchable.
	extra := Entry{ID: "new_chunk_0", DocID: "new", Vector: entries[42].Vector}
	_ = ivf.Add(ctx, []Entry{extra})
	got, _ = ivf.Search(ctx, entries[42].Vector, 2, Filter{})
	found := false
	for _, r := range got {
		if r.ID == "new_chunk_0" {
			found = true
		}
	}
	if !found {
		t.Errorf("new entry missing from %v", ids(got))
	}

	_ = ivf.RemoveDocument(ctx, "new")
	_ = ivf.Remove(ctx, []string{entries[42].ID})
	got, _ = ivf.Search(ctx, entries[42].Vector, 600, Filter{})
	for _, r := range got {
		if r.ID == "new_chunk_0" || r.ID == entries[42].ID {
			t.Errorf("removed entry %s still returned", r.ID)
		}
	}
	if ivf.Size() != 599 {
		t.Errorf("Size=%d, want 599", ivf.Size())
	}
}

func TestIVFIndex_SaveLoad(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	entries := clustered(rng, 300, 8, 3)
	ctx := context.Background()
	ivf, _ := NewIVFIndex(8, WithTrainThreshold(100))
	_ = ivf.Add(ctx, entries)
	_, _ = ivf.Search(ctx, entries[0].Vector, 1, Filter{})

	path := filepath.Join(t.TempDir(), "vectors.ivf")
	if err := ivf.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, _ := NewIVFIndex(8, WithTrainThreshold(100))
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 300 || loaded.Trained() {
		t.Fatalf("loaded size=%d trained=%v", loaded.Size(), loaded.Trained())
	}
	got, _ := loaded.Search(ctx, entries[0].Vector, 1, Filter{})
	if len(got) != 1 || got[0].ID != entries[0].ID {
		t.Errorf("got %v, want %s", ids(got), entries[0].ID)
	}
}

func TestAutoLists(t *testing.T) {
	tests := []struct{ rows, want int }{
		{0, 10}, {5000, 10}, {168000, 168}, {10_000_000, 4000},
	}
	for _, tt := range tests {
		if got := AutoLists(tt.rows); got != tt.want {
			t.Errorf("AutoLists(%d)=%d, want %d", tt.rows, got, tt.want)
		}
	}
	if AutoProbes(100) != 10 || AutoProbes(0) != 1 {
		t.Error("unexpected AutoProbes")
	}
}
