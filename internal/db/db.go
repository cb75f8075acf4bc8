package db

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/studyowl/textbook-ai/internal/jobs"
	"github.com/studyowl/textbook-ai/internal/ledger"
	"github.com/studyowl/textbook-ai/internal/session"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&session.ChatSession{},
		&session.Interaction{},
		&jobs.Job{},
		&ledger.UsageLedger{},
	); err != nil {
		return err
	}

	// One live job per textbook: re-ingestion resets the existing row instead
	// of inserting a second one. Multiple NULL textbook_ids are allowed.
	if err := gdb.Exec(`create unique index if not exists uq_jobs_textbook_id on jobs(textbook_id) where textbook_id is not null;`).Error; err != nil {
		return err
	}

	return nil
}
