package vector

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/pravo/internal/config"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory is exact brute-force search. Good for small corpora.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeIVF is the inverted-file approximate index.
	IndexTypeIVF IndexType = "ivf"
)

// NewIndex creates the index selected by cfg. Supported types: "ivf" (default), "memory".
func NewIndex(cfg config.VectorConfig, dimensions int, logger *zap.Logger) (Index, error) {
	switch IndexType(cfg.IndexType) {
	case IndexTypeIVF, "":
		return NewIVFIndex(dimensions,
			WithLists(cfg.Lists),
			WithProbes(cfg.Probes),
			WithTrainThreshold(cfg.TrainThreshold),
			WithLogger(logger))
	case IndexTypeMemory:
		return NewMemoryIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: ivf, memory)", cfg.IndexType)
	}
}
