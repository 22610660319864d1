package gormsqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenConfiguresWALMode(t *testing.T) {
	db := openTemp(t)

	wdb, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	var mode string
	if err := wdb.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("read journal mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal mode, got %q", mode)
	}
}

func TestWriteTXVisibleToReadTX(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)

	wdb, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if _, err := wdb.ExecContext(ctx, "CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	err = db.WriteTX(ctx, func(tx *Tx) error {
		return tx.Exec("INSERT INTO notes (body) VALUES (?)", "hello").Error
	})
	if err != nil {
		t.Fatalf("write tx: %v", err)
	}

	var count int64
	err = db.ReadTX(ctx, func(tx *Tx) error {
		return tx.Raw("SELECT COUNT(*) FROM notes").Scan(&count).Error
	})
	if err != nil {
		t.Fatalf("read tx: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestWriteTXRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)

	wdb, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if _, err := wdb.ExecContext(ctx, "CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	err = db.WriteTX(ctx, func(tx *Tx) error {
		if err := tx.Exec("INSERT INTO notes (body) VALUES (?)", "doomed").Error; err != nil {
			return err
		}
		// Violates NOT NULL, the whole transaction must unwind.
		return tx.Exec("INSERT INTO notes (body) VALUES (NULL)").Error
	})
	if err == nil {
		t.Fatal("expected write tx error")
	}

	var count int64
	err = db.ReadTX(ctx, func(tx *Tx) error {
		return tx.Raw("SELECT COUNT(*) FROM notes").Scan(&count).Error
	})
	if err != nil {
		t.Fatalf("read tx: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to leave no rows, got %d", count)
	}
}

func TestCloseIsIdempotentEnough(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "close.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
