package database

import (
	"context"
	"testing"
)

func TestMigrator_RunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db)
	if err := m.Run(ctx); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	status, err := m.GetStatus(ctx)
	if err != nil {
		t.Fatalf("Failed to get status: %v", err)
	}
	if len(status) != len(migrations) {
		t.Fatalf("Expected %d migrations, got %d", len(migrations), len(status))
	}
	for _, mig := range status {
		if mig.AppliedAt.IsZero() {
			t.Errorf("Migration %d (%s) not applied", mig.Version, mig.Name)
		}
	}
}

func TestMigrator_CreatesRecordingsTable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := NewMigrator(db).Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var name string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'recordings'").Scan(&name)
	if err != nil {
		t.Fatalf("recordings table missing: %v", err)
	}
}
