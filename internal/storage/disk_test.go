package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "pravo.db")
	wal := db + "-wal"
	index := filepath.Join(dir, "vectors")
	files := map[string]string{
		db:                               "sqlite",
		wal:                              "log",
		filepath.Join(index, "lists"):    "ab",
		filepath.Join(index, "centroid"): "c",
	}
	for path, content := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"database file", []string{db}, 6},
		{"index directory", []string{index}, 3},
		{"database with wal and index", append(SQLiteFiles(db), index), 12},
		{"missing shm is skipped", []string{db, db + "-shm"}, 6},
		{"empty path is skipped", []string{"", db}, 6},
		{"nothing", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("DiskUsageBytes(%v) = %d, want %d", tt.paths, got, tt.want)
			}
		})
	}
}
