package testing

import (
	"path/filepath"
	"testing"

	"github.com/teranos/keywatch/db"
)

// CreateTestDB creates a migrated SQLite test database in a temporary directory.
// A file is used instead of :memory: so every pooled connection sees the same
// data, which concurrency tests depend on. Cleanup is registered via t.Cleanup().
func CreateTestDB(t *testing.T) *db.DB {
	t.Helper()

	conn, err := db.OpenWithMigrations(db.DialectSQLite, filepath.Join(t.TempDir(), "keywatch_test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
