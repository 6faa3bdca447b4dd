package vector

import (
	"context"
	"testing"

	"github.com/hyperjump/pravo/internal/config"
)

func TestNewIndex(t *testing.T) {
	tests := []struct {
		indexType string
		want      string
	}{
		{"", "ivf"},
		{"ivf", "ivf"},
		{"memory", "memory"},
	}
	for _, tt := range tests {
		idx, err := NewIndex(config.VectorConfig{IndexType: tt.indexType}, 3, nil)
		if err != nil {
			t.Fatalf("NewIndex(%q): %v", tt.indexType, err)
		}
		typed, ok := idx.(interface{ Type() string })
		if !ok || typed.Type() != tt.want {
			t.Errorf("NewIndex(%q) type = %v, want %s", tt.indexType, typed, tt.want)
		}
		if err := idx.Add(context.Background(), []Entry{{ID: "a", DocID: "d", Vector: []float32{1, 0, 0}}}); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if idx.Size() != 1 || idx.Dimensions() != 3 {
			t.Errorf("Size=%d Dimensions=%d", idx.Size(), idx.Dimensions())
		}
		_ = idx.Close()
	}
}

func TestNewIndex_errors(t *testing.T) {
	if _, err := NewIndex(config.VectorConfig{IndexType: "faiss"}, 3, nil); err == nil {
		t.Error("expected error for unknown index type")
	}
	if _, err := NewIndex(config.VectorConfig{IndexType: "memory"}, 0, nil); err == nil {
		t.Error("expected error for zero dimension")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if s := CosineSimilarity([]float32{1, 0}, []float32{2, 0}); s != 1 {
		t.Errorf("parallel = %v", s)
	}
	if s := CosineSimilarity([]float32{1, 0}, []float32{-3, 0}); s != -1 {
		t.Errorf("opposite = %v", s)
	}
	if s := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); s != 0 {
		t.Errorf("zero = %v", s)
	}
	b := BytesFloat32(Float32Bytes([]float32{1.5, -2.25}))
	if b[0] != 1.5 || b[1] != -2.25 {
		t.Errorf("round trip = %v", b)
	}
}
