package session

import "time"

// ChatSession maps a conversation thread to the user session that owns it.
// The mapping is append-only: rows are inserted at session creation and the
// owner column is never updated afterwards.
type ChatSession struct {
	ID            string    `gorm:"type:varchar(100);primaryKey" json:"id"`
	UserSessionID string    `gorm:"type:varchar(100);index;not null" json:"-"`
	Name          string    `gorm:"type:varchar(255)" json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ChatSession) TableName() string { return "chat_sessions" }

// Sender roles for Interaction rows.
const (
	RoleUser = "User"
	RoleAI   = "AI"
)

// Interaction is one conversation turn in the analytics log; each answered
// question produces a user row and an AI row.
type Interaction struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatSessionID string    `gorm:"type:varchar(100);index;not null" json:"chat_session_id"`
	SenderRole    string    `gorm:"type:varchar(16);not null" json:"sender_role"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Interaction) TableName() string { return "user_interactions" }
