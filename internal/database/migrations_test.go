package database

import (
	"testing"

	"go.uber.org/zap"
)

func TestOpenSQLiteInitializesSchemaAndMigrations(t *testing.T) {
	db, err := OpenSQLite("file::memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	for _, table := range []string{"credit_entries", "used_payment_sessions", "user_identities", "user_invites", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %q to exist", table)
		}
	}

	var count int64
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count == 0 {
		t.Fatalf("expected migration records to be written")
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected missing path to be rejected")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db, err := OpenSQLite("file::memory:?cache=shared", zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	var before int64
	if err := db.Model(&migrationRecord{}).Count(&before).Error; err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("re-applying migrations failed: %v", err)
	}

	var after int64
	if err := db.Model(&migrationRecord{}).Count(&after).Error; err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if before != after {
		t.Fatalf("expected migration count to stay %d, got %d", before, after)
	}
}
