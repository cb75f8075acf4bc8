package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/studyowl/textbook-ai/internal/common"
)

// Store owns job records. All status transitions go through the operations
// below; no other code path writes jobs rows.
type Store struct {
	db  *gorm.DB
	log *logrus.Entry
}

func NewStore(db *gorm.DB, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{db: db, log: log}
}

// CreateOrReset returns the id of the live job for textbookID, resetting an
// existing record back to pending for re-ingestion, or inserting a fresh one.
// A nil textbookID always inserts (the runner assigns the textbook later).
//
// The insert race between two callers with the same textbookID is resolved by
// the unique index on textbook_id: the loser's insert fails with a duplicate
// key and is retried as a reset of the winner's row.
func (s *Store) CreateOrReset(ctx context.Context, textbookID *string) (string, error) {
	if textbookID == nil || *textbookID == "" {
		return s.insertNew(ctx, nil)
	}

	id, err := s.resetExisting(ctx, *textbookID)
	if err != nil {
		return "", err
	}
	if id != "" {
		s.log.WithFields(logrus.Fields{"job_id": id, "textbook_id": *textbookID}).
			Info("reset existing job record for re-ingestion")
		return id, nil
	}

	id, err = s.insertNew(ctx, textbookID)
	if err == nil {
		return id, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the insert race; the other caller's row is the live job.
		if id, rerr := s.resetExisting(ctx, *textbookID); rerr == nil && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("create job record: %w", err)
}

func (s *Store) insertNew(ctx context.Context, textbookID *string) (string, error) {
	id, err := common.NewULID()
	if err != nil {
		return "", err
	}
	j := &Job{
		ID:         id,
		TextbookID: textbookID,
		Status:     StatusPending,
		StartedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(j).Error; err != nil {
		return "", err
	}
	s.log.WithField("job_id", id).Info("created new job record")
	return id, nil
}

// resetExisting moves the row for textbookID back to pending, clearing every
// run-scoped field in the same statement. Returns "" when no row exists.
func (s *Store) resetExisting(ctx context.Context, textbookID string) (string, error) {
	var jobID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j Job
		if err := tx.Select("id").Where("textbook_id = ?", textbookID).First(&j).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		jobID = j.ID
		return tx.Model(&Job{}).Where("id = ?", j.ID).Updates(map[string]any{
			"status":            StatusPending,
			"started_at":        time.Now(),
			"completed_at":      nil,
			"error_message":     nil,
			"ingested_sections": 0,
			"ingested_images":   0,
			"ingested_videos":   0,
			"glue_run_id":       nil,
		}).Error
	})
	if err != nil {
		return "", fmt.Errorf("reset job record: %w", err)
	}
	return jobID, nil
}

// AttachRunHandle records the runner's run id and moves the job to running.
// Idempotent; a different handle later simply overwrites (the runner is
// authoritative for its own run ids).
func (s *Store) AttachRunHandle(ctx context.Context, jobID, runID string) error {
	res := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", jobID, []Status{StatusPending, StatusRunning}).
		Updates(map[string]any{
			"status":      StatusRunning,
			"glue_run_id": runID,
		})
	if res.Error != nil {
		return fmt.Errorf("attach run handle: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("attach run handle: job %s not in an attachable state", jobID)
	}
	return nil
}

// MarkTerminal moves the job to completed or failed.
func (s *Store) MarkTerminal(ctx context.Context, jobID string, status Status, errMsg *string) error {
	if !status.Terminal() {
		return fmt.Errorf("mark terminal: %q is not a terminal status", status)
	}
	if status != StatusFailed {
		errMsg = nil
	}
	res := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":        status,
			"completed_at":  time.Now(),
			"error_message": errMsg,
		})
	if res.Error != nil {
		return fmt.Errorf("mark terminal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, jobID string) (*Job, error) {
	var j Job
	if err := s.db.WithContext(ctx).First(&j, "id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return &j, nil
}
