package api

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
)

// StorageReport is the per-project bytes breakdown over the .steroids
// tree.
type StorageReport struct {
	Path               string    `json:"path"`
	DatabaseBytes      int64     `json:"database_bytes"`
	BackupBytes        int64     `json:"backup_bytes"`
	InvocationLogBytes int64     `json:"invocation_log_bytes"`
	TextLogBytes       int64     `json:"text_log_bytes"`
	OtherBytes         int64     `json:"other_bytes"`
	TotalBytes         int64     `json:"total_bytes"`
	MeasuredAt         time.Time `json:"measured_at"`
}

// StorageSummary is the list-view element: just the total per project.
type StorageSummary struct {
	Path       string `json:"path"`
	Name       string `json:"name,omitempty"`
	TotalBytes int64  `json:"total_bytes"`
}

// MeasureProject walks the project's .steroids tree and buckets bytes
// by purpose. A missing tree yields a zero report, not an error.
func MeasureProject(projectPath string) (*StorageReport, error) {
	report := &StorageReport{Path: projectPath}
	root := filepath.Join(projectPath, db.StoreDirName)

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		size, err := treeSize(path)
		if err != nil {
			return nil, err
		}
		switch {
		case !entry.IsDir() && strings.HasPrefix(entry.Name(), db.StoreFileName):
			// steroids.db plus its -wal/-shm sidecars
			report.DatabaseBytes += size
		case entry.Name() == "backup":
			report.BackupBytes += size
		case entry.Name() == "invocations":
			report.InvocationLogBytes += size
		case entry.Name() == "text-logs":
			report.TextLogBytes += size
		default:
			report.OtherBytes += size
		}
		report.TotalBytes += size
	}
	return report, nil
}

// treeSize sums regular-file sizes under path (or the file's own size).
func treeSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish mid-walk during sweeps.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
