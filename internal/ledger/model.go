package ledger

import "time"

// UsageLedger accumulates token usage for one principal (user session) within
// the current reset window. Rows are mutated only through CheckAndUpdate.
type UsageLedger struct {
	UserSessionID string    `gorm:"type:varchar(100);primaryKey" json:"user_session_id"`
	TokensUsed    int64     `gorm:"not null;default:0" json:"tokens_used"`
	WindowStart   time.Time `gorm:"not null" json:"window_start"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (UsageLedger) TableName() string { return "token_usage" }

// Unlimited marks a principal with no token ceiling.
const Unlimited int64 = -1

// Status is the caller-visible usage snapshot. Remaining is meaningless when
// DailyLimit is Unlimited.
type Status struct {
	TokensUsed        int64     `json:"tokens_used"`
	DailyLimit        int64     `json:"daily_limit"`
	Remaining         int64     `json:"remaining"`
	WindowStart       time.Time `json:"window_start"`
	SecondsUntilReset int64     `json:"seconds_until_reset"`
}

func (s Status) Limited() bool { return s.DailyLimit != Unlimited }

func (s Status) HoursUntilReset() float64 {
	return float64(s.SecondsUntilReset) / 3600.0
}
