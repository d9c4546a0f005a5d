package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyperjump/recall/internal/config"
)

// Paths returns the on-disk locations used by the configured backend. The memory backend
// has none.
func Paths(cfg config.StorageConfig) []string {
	switch cfg.Backend {
	case "sqlite", "":
		return []string{cfg.DatabasePath, cfg.DatabasePath + "-wal", cfg.DatabasePath + "-shm"}
	case "jsonl":
		return []string{cfg.JSONLDir}
	case "bolt":
		return []string{cfg.BoltPath}
	}
	return nil
}

// DiskUsage returns the bytes the configured backend occupies on disk, including the
// sqlite write-ahead log.
func DiskUsage(cfg config.StorageConfig) (int64, error) {
	return DiskUsageBytes(Paths(cfg)...)
}

// DiskUsageBytes sums the sizes of files and directory trees at paths. Empty and missing
// paths count as zero.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, err
		}
	}
	return total, nil
}
