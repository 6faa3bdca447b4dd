package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// SQLiteFiles returns the files SQLite keeps for the database at path in WAL mode.
func SQLiteFiles(path string) []string {
	return []string{path, path + "-wal", path + "-shm"}
}

// DiskUsageBytes sums the sizes of paths. A directory counts every regular
// file below it. Empty and missing paths count as zero.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || !d.Type().IsRegular() {
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
