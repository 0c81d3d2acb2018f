package db

import (
	"path/filepath"
	"testing"
)

// OpenTest opens a migrated database in a per-test temp directory and closes
// it when the test finishes.
func OpenTest(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "gazecap_test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
