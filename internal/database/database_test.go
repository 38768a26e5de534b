package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := Open(&Config{Path: dbPath})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	db := openTestDB(t)

	if err := db.Health(context.Background()); err != nil {
		t.Errorf("Health check failed: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/data/history.db")

	if cfg.Path != "/data/history.db" {
		t.Errorf("Expected path /data/history.db, got %s", cfg.Path)
	}
	if cfg.MaxOpenConns != 10 {
		t.Errorf("Expected MaxOpenConns 10, got %d", cfg.MaxOpenConns)
	}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec(`CREATE TABLE test_table (id INTEGER PRIMARY KEY, value TEXT)`); err != nil {
		t.Fatalf("Failed to create test table: %v", err)
	}

	boom := errors.New("boom")
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO test_table (value) VALUES (?)`, "doomed"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the callback error, got %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM test_table`).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected rollback to leave 0 rows, got %d", count)
	}
}

func TestRecordingsRepo_StartFinishList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := NewMigrator(db).Run(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	repo := NewRecordingsRepo(db)

	id, err := repo.Start(ctx, 1, "833612074926", "fraud_snaps")
	if err != nil {
		t.Fatalf("Failed to start session row: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a non-empty session id")
	}

	active, err := repo.ActiveCount(ctx)
	if err != nil {
		t.Fatalf("Failed to count active: %v", err)
	}
	if active != 1 {
		t.Errorf("Expected 1 active session, got %d", active)
	}

	if err := repo.Finish(ctx, id, 42, 3); err != nil {
		t.Fatalf("Failed to finish session row: %v", err)
	}

	rows, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list recordings: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}

	row := rows[0]
	if row.ID != id {
		t.Errorf("Expected id %s, got %s", id, row.ID)
	}
	if row.NodeID != 1 || row.CameraSN != "833612074926" || row.Dataset != "fraud_snaps" {
		t.Errorf("Row identity mismatch: %+v", row)
	}
	if row.FramesWritten != 42 || row.FramesDropped != 3 {
		t.Errorf("Expected counters 42/3, got %d/%d", row.FramesWritten, row.FramesDropped)
	}
	if row.StoppedAt == nil {
		t.Error("Expected a stop time after Finish")
	}
	if time.Since(row.StartedAt) > time.Minute {
		t.Errorf("Start time looks wrong: %v", row.StartedAt)
	}

	active, err = repo.ActiveCount(ctx)
	if err != nil {
		t.Fatalf("Failed to count active: %v", err)
	}
	if active != 0 {
		t.Errorf("Expected 0 active sessions after finish, got %d", active)
	}
}

func TestRecordingsRepo_ListNewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := NewMigrator(db).Run(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	repo := NewRecordingsRepo(db)
	for i := 0; i < 3; i++ {
		if _, err := repo.Start(ctx, i+1, "111", "d"); err != nil {
			t.Fatalf("Failed to start session %d: %v", i, err)
		}
	}

	rows, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to list recordings: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected limit to cap at 2 rows, got %d", len(rows))
	}
}
