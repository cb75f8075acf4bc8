package jobs

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job tracks one ingestion run for a textbook. For a given textbook there is
// at most one live row: re-ingestion resets it back to pending instead of
// inserting a duplicate. TextbookID is nil for new ingestions until the batch
// runner assigns one.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	TextbookID *string `gorm:"type:varchar(100)" json:"textbook_id"`

	Status Status `gorm:"type:varchar(16);index;not null" json:"status"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Set when status = failed
	ErrorMessage *string `gorm:"type:text" json:"error_message"`

	// Progress counters, zeroed whenever the job goes back to pending
	IngestedSections int `gorm:"not null;default:0" json:"ingested_sections"`
	IngestedImages   int `gorm:"not null;default:0" json:"ingested_images"`
	IngestedVideos   int `gorm:"not null;default:0" json:"ingested_videos"`

	// Run handle from the batch runner, set once per run cycle
	GlueRunID *string `gorm:"type:varchar(255)" json:"glue_run_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
