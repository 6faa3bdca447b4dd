package storage

import (
	"context"

	"github.com/hyperjump/pravo/internal/config"
)

// Stats summarizes the stored corpus.
type Stats struct {
	Driver         string `json:"driver"`
	Documents      int64  `json:"documents"`
	Chunks         int64  `json:"chunks"`
	Embedded       int64  `json:"embedded"`
	NeedsOCR       int    `json:"needs_ocr"`
	DiskUsageBytes int64  `json:"disk_usage_bytes,omitempty"`
}

type embeddedCounter interface {
	CountEmbedded(ctx context.Context) (int64, error)
}

const statsPage = 500

// CollectStats counts documents, chunks and embedded chunks, and the
// documents flagged for OCR. Disk usage is reported for file-backed drivers.
func CollectStats(ctx context.Context, s Storage, cfg config.StorageConfig) (Stats, error) {
	st := Stats{Driver: cfg.Driver}
	var err error
	if st.Documents, err = s.CountDocuments(ctx); err != nil {
		return st, err
	}
	if st.Chunks, err = s.CountChunks(ctx); err != nil {
		return st, err
	}
	if c, ok := s.(embeddedCounter); ok {
		if st.Embedded, err = c.CountEmbedded(ctx); err != nil {
			return st, err
		}
	}
	for offset := 0; ; offset += statsPage {
		docs, err := s.ListDocuments(ctx, offset, statsPage)
		if err != nil {
			return st, err
		}
		for _, d := range docs {
			if d.NeedsOCR {
				st.NeedsOCR++
			}
		}
		if len(docs) < statsPage {
			break
		}
	}
	if cfg.Driver != config.DriverPostgres && cfg.DatabasePath != "" {
		paths := append(SQLiteFiles(cfg.DatabasePath), cfg.VectorIndexPath)
		if st.DiskUsageBytes, err = DiskUsageBytes(paths...); err != nil {
			return st, err
		}
	}
	return st, nil
}
