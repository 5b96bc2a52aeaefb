package db

import (
	"fmt"
	"path/filepath"
)

// ProjectDB provides operations on a per-project store
// (<project>/.steroids/steroids.db).
type ProjectDB struct {
	*DB
}

// ProjectStorePath returns the database path for a project directory.
func ProjectStorePath(projectPath string) string {
	return filepath.Join(projectPath, StoreDirName, StoreFileName)
}

// InvocationLogDir returns the directory of per-invocation JSONL logs.
func InvocationLogDir(projectPath string) string {
	return filepath.Join(projectPath, StoreDirName, "invocations")
}

// BackupDir returns the backup snapshot directory for a project.
func BackupDir(projectPath string) string {
	return filepath.Join(projectPath, StoreDirName, "backup")
}

// TextLogDir returns the text-log tree for a project.
func TextLogDir(projectPath string) string {
	return filepath.Join(projectPath, StoreDirName, "text-logs")
}

// OpenProject opens (and migrates) the project store for a project directory.
func OpenProject(projectPath string) (*ProjectDB, error) {
	db, err := Open(ProjectStorePath(projectPath))
	if err != nil {
		return nil, err
	}

	if err := db.Migrate("project"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate project db: %w", err)
	}

	return &ProjectDB{DB: db}, nil
}

// OpenProjectReadOnly opens the project store without migrating and without
// write access. Observers use this so a runner mid-transaction is never
// blocked by a dashboard query.
func OpenProjectReadOnly(projectPath string) (*ProjectDB, error) {
	db, err := OpenReadOnly(ProjectStorePath(projectPath))
	if err != nil {
		return nil, err
	}
	return &ProjectDB{DB: db}, nil
}
