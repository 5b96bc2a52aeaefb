// Package db provides database persistence for steroids.
//
// Two databases are used:
//   - Global (~/.steroids/steroids.db): project registry, runners, activity log
//   - Project (<project>/.steroids/steroids.db): tasks, sections, audit trail,
//     locks, disputes, incidents, invocations
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db/driver"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// StoreDirName is the per-project (and per-user) state directory.
const StoreDirName = ".steroids"

// StoreFileName is the database filename inside the state directory.
const StoreFileName = "steroids.db"

// embedFSAdapter wraps embed.FS to implement driver.SchemaFS.
type embedFSAdapter struct {
	fs embed.FS
}

func (e *embedFSAdapter) ReadDir(name string) ([]driver.DirEntry, error) {
	entries, err := e.fs.ReadDir(name)
	if err != nil {
		return nil, err
	}
	result := make([]driver.DirEntry, len(entries))
	for i, entry := range entries {
		result[i] = dirEntryAdapter{entry}
	}
	return result, nil
}

func (e *embedFSAdapter) ReadFile(name string) ([]byte, error) {
	return e.fs.ReadFile(name)
}

type dirEntryAdapter struct {
	fs.DirEntry
}

func (d dirEntryAdapter) Name() string { return d.DirEntry.Name() }
func (d dirEntryAdapter) IsDir() bool  { return d.DirEntry.IsDir() }

// DB wraps a database connection with driver abstraction.
type DB struct {
	driver driver.Driver
	path   string
}

// Open opens a SQLite database at the given path.
// Creates the parent directory if it doesn't exist.
func Open(path string) (*DB, error) {
	return OpenWithDialect(path, driver.DialectSQLite)
}

// OpenInMemory opens an in-memory SQLite database, isolated per call.
// Used by tests and by observers running against a missing global store.
func OpenInMemory() (*DB, error) {
	drv, err := driver.New(driver.DialectSQLite)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(":memory:"); err != nil {
		return nil, err
	}
	return &DB{driver: drv, path: ":memory:"}, nil
}

// OpenReadOnly opens a SQLite database for observer processes. The
// connection joins WAL shared-memory coordination but cannot write.
func OpenReadOnly(path string) (*DB, error) {
	drv := driver.NewSQLiteReadOnly()
	if err := drv.Open(path); err != nil {
		return nil, err
	}
	return &DB{driver: drv, path: path}, nil
}

// OpenWithDialect opens a database with a specific dialect.
func OpenWithDialect(dsn string, dialect driver.Dialect) (*DB, error) {
	if dialect == driver.DialectSQLite {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}

	if err := drv.Open(dsn); err != nil {
		return nil, err
	}

	return &DB{driver: drv, path: dsn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.driver.Close()
}

// Path returns the database DSN/path.
func (d *DB) Path() string {
	return d.path
}

// DB returns the underlying sql.DB for advanced operations.
func (d *DB) DB() *sql.DB {
	return d.driver.DB()
}

// Driver returns the underlying driver.
func (d *DB) Driver() driver.Driver {
	return d.driver
}

// Exec executes a statement without returning rows.
func (d *DB) Exec(query string, args ...any) (sql.Result, error) {
	return d.driver.Exec(context.Background(), query, args...)
}

// Query executes a query that returns rows.
func (d *DB) Query(query string, args ...any) (*sql.Rows, error) {
	return d.driver.Query(context.Background(), query, args...)
}

// QueryRow executes a query that returns at most one row.
func (d *DB) QueryRow(query string, args ...any) *sql.Row {
	return d.driver.QueryRow(context.Background(), query, args...)
}

// BeginTx starts a transaction.
func (d *DB) BeginTx(ctx context.Context) (driver.Tx, error) {
	return d.driver.BeginTx(ctx, nil)
}

// Migrate applies pending migrations for the given schema type
// ("project" or "global").
func (d *DB) Migrate(schemaType string) error {
	return d.driver.Migrate(context.Background(), &embedFSAdapter{fs: schemaFS}, schemaType)
}

// --- timestamp helpers ---

// FormatTime renders a timestamp in the store's canonical RFC3339 form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime parses a stored RFC3339 timestamp. Zero time on empty input.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullTime converts a nullable column to *time.Time.
func nullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := ParseTime(s.String)
	return &t
}

// timePtr formats an optional timestamp for storage.
func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}
