package session

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxSessionIDLength = 100

// Legacy fallback ids issued by old clients: "default-" + unix timestamp.
var legacyIDPattern = regexp.MustCompile(`^default-\d{10,}$`)

// Patterns that must never appear in a session id. A match rejects the id
// outright; the guard never strips characters and continues.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[;'"\\]`),          // SQL injection characters
	regexp.MustCompile(`\.\.`),             // path traversal
	regexp.MustCompile(`(?i)<script`),      // XSS attempts
	regexp.MustCompile(`(?i)DROP\s+TABLE`), // SQL commands
	regexp.MustCompile(`--`),               // SQL comments
}

// Guard validates chat session identifiers and verifies ownership before any
// session-scoped data is touched. It holds no state of its own beyond the
// read-only mapping lookup.
type Guard struct {
	db  *gorm.DB
	log *logrus.Entry
}

func NewGuard(db *gorm.DB, log *logrus.Entry) *Guard {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Guard{db: db, log: log}
}

// ValidateFormat accepts a canonical UUID or a recognized legacy fallback id.
func (g *Guard) ValidateFormat(id string) bool {
	if id == "" {
		return false
	}
	if _, err := uuid.Parse(id); err == nil {
		return true
	}
	if legacyIDPattern.MatchString(id) {
		g.log.WithField("session_id", truncateID(id)).Warn("legacy fallback session id detected")
		return true
	}
	return false
}

// Sanitize trims and validates a session id before it is used anywhere.
// It is reject-or-pass: any suspicious content fails the whole request.
func (g *Guard) Sanitize(id string) (string, error) {
	if id == "" {
		return "", &ValidationError{Reason: "empty"}
	}

	id = strings.TrimSpace(id)

	if len(id) > maxSessionIDLength {
		return "", &ValidationError{Reason: "exceeds maximum length"}
	}

	if !g.ValidateFormat(id) {
		return "", &ValidationError{Reason: "unrecognized format"}
	}

	for _, p := range suspiciousPatterns {
		if p.MatchString(id) {
			g.log.WithField("pattern", p.String()).Error("suspicious pattern in session id")
			return "", &ValidationError{Reason: "suspicious characters"}
		}
	}

	return id, nil
}

// VerifyOwnership reports whether principalID owns chatSessionID. Any lookup
// failure, including storage errors, denies access (fail closed).
func (g *Guard) VerifyOwnership(ctx context.Context, chatSessionID, principalID string) bool {
	if chatSessionID == "" || principalID == "" {
		return false
	}

	var n int64
	err := g.db.WithContext(ctx).
		Model(&ChatSession{}).
		Where("id = ? AND user_session_id = ?", chatSessionID, principalID).
		Limit(1).
		Count(&n).Error
	if err != nil {
		g.log.WithError(err).Error("ownership lookup failed, denying access")
		return false
	}
	if n == 0 {
		g.log.WithFields(logrus.Fields{
			"chat_session": truncateID(chatSessionID),
			"principal":    truncateID(principalID),
		}).Warn("session ownership check failed")
		return false
	}
	return true
}

// Owner returns the principal that owns chatSessionID, or "" when the session
// is unknown or the lookup fails.
func (g *Guard) Owner(ctx context.Context, chatSessionID string) string {
	var s ChatSession
	err := g.db.WithContext(ctx).
		Select("user_session_id").
		Where("id = ?", chatSessionID).
		First(&s).Error
	if err != nil {
		return ""
	}
	return s.UserSessionID
}

// GenerateID produces a cryptographically strong session id. Never derived
// from wall-clock time alone.
func (g *Guard) GenerateID() string {
	return uuid.NewString()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}
