package database

import (
	"errors"
	"time"

	"github.com/verbatimlab/verbatim/backend/internal/credits"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillEntryReferences = "2026-08-20_backfill_entry_references"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillEntryReferences, apply: backfillEntryReferences},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillEntryReferences gives ledger rows written before the idempotency
// reference existed a unique value, so the reference index can stay unique.
func backfillEntryReferences(db *gorm.DB) error {
	return db.Model(&credits.Entry{}).
		Where("reference IS NULL OR reference = ''").
		Update("reference", gorm.Expr("'legacy:' || entry_id")).Error
}
