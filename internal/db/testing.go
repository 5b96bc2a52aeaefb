package db

import "testing"

// NewTestProjectDB returns a migrated in-memory project store.
func NewTestProjectDB(t *testing.T) *ProjectDB {
	t.Helper()
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate("project"); err != nil {
		t.Fatalf("migrate project schema: %v", err)
	}
	return &ProjectDB{DB: db}
}

// NewTestGlobalDB returns a migrated in-memory global store.
func NewTestGlobalDB(t *testing.T) *GlobalDB {
	t.Helper()
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate("global"); err != nil {
		t.Fatalf("migrate global schema: %v", err)
	}
	return &GlobalDB{DB: db}
}
