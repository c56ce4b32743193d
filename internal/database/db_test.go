package database

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestNewDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "board.db")

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"week_boards", "image_ingestions"} {
		var name string
		err := db.SQL.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("Expected table %s to exist: %v", table, err)
		}
	}

	t.Run("PragmasApplied", func(t *testing.T) {
		var mode string
		if err := db.SQL.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
			t.Fatalf("journal_mode query failed: %v", err)
		}
		if !strings.EqualFold(mode, "wal") {
			t.Errorf("Expected WAL journal mode, got %q", mode)
		}

		var timeout int
		if err := db.SQL.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout); err != nil {
			t.Fatalf("busy_timeout query failed: %v", err)
		}
		if timeout != 5000 {
			t.Errorf("Expected busy_timeout 5000, got %d", timeout)
		}
	})

	t.Run("MigrationsAreIdempotent", func(t *testing.T) {
		if err := RunMigrations(dbPath); err != nil {
			t.Fatalf("Expected second migration run to be a no-op, got %v", err)
		}
	})
}

func TestStatus(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "board.db")

	before, err := Status(dbPath)
	if err != nil {
		t.Fatalf("Status on empty database failed: %v", err)
	}
	if before.Version != 0 || before.Dirty {
		t.Errorf("Expected clean version 0, got %+v", before)
	}
	if before.Latest != 2 {
		t.Errorf("Expected latest embedded migration 2, got %d", before.Latest)
	}
	if before.Current() {
		t.Error("Expected unmigrated database not to be current")
	}

	if err := RunMigrations(dbPath); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	after, err := Status(dbPath)
	if err != nil {
		t.Fatalf("Status after migration failed: %v", err)
	}
	if after.Version != after.Latest || after.Dirty || !after.Current() {
		t.Errorf("Expected current schema, got %+v", after)
	}
}
