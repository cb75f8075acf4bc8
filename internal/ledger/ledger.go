package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LimitProvider resolves the configured daily token ceiling. Implementations
// return Unlimited when no ceiling is configured.
type LimitProvider interface {
	DailyTokenLimit(ctx context.Context) (int64, error)
}

// LimitFunc adapts a plain function to LimitProvider.
type LimitFunc func(ctx context.Context) (int64, error)

func (f LimitFunc) DailyTokenLimit(ctx context.Context) (int64, error) { return f(ctx) }

// Ledger meters token usage per principal within a rolling reset window.
// Usage is recorded post-hoc (after the expensive work ran), so a burst of
// concurrent requests can each pass the pre-check before any update lands;
// the limit is soft under concurrency. See CheckAndUpdate.
type Ledger struct {
	db     *gorm.DB
	limits LimitProvider
	window time.Duration
	log    *logrus.Entry
}

func New(db *gorm.DB, limits LimitProvider, window time.Duration, log *logrus.Entry) *Ledger {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ledger{db: db, limits: limits, window: window, log: log}
}

// GetStatus reports current usage. A row whose window has expired is reported
// as if already reset (usage 0) even though no write happens here; the next
// CheckAndUpdate performs the actual reset.
func (l *Ledger) GetStatus(ctx context.Context, principalID string) (Status, error) {
	limit := l.resolveLimit(ctx)
	now := time.Now()

	var row UsageLedger
	err := l.db.WithContext(ctx).First(&row, "user_session_id = ?", principalID).Error
	switch {
	case err == nil && now.Sub(row.WindowStart) < l.window:
		return l.status(row.TokensUsed, row.WindowStart, limit, now), nil
	case err == nil || errors.Is(err, gorm.ErrRecordNotFound):
		// no row yet, or window expired: virtual reset
		return l.status(0, now, limit, now), nil
	default:
		return Status{}, fmt.Errorf("ledger read: %w", err)
	}
}

// CheckAndUpdate atomically adds amount to the principal's usage and reports
// whether the request was within budget. The whole read-modify-write runs in
// one transaction with an SQL-level increment, so concurrent calls for the
// same principal never lose an update.
//
// allowed is false only when a finite limit was already reached strictly
// before this addition; the amount is still recorded either way, since the
// work it meters has already run.
func (l *Ledger) CheckAndUpdate(ctx context.Context, principalID string, amount int64) (bool, Status, error) {
	if amount < 0 {
		return false, Status{}, fmt.Errorf("ledger update: negative amount %d", amount)
	}

	limit := l.resolveLimit(ctx)
	now := time.Now()

	var post UsageLedger
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&UsageLedger{
			UserSessionID: principalID,
			TokensUsed:    0,
			WindowStart:   now,
		}).Error; err != nil {
			return err
		}

		// expired window resets before the addition, in the same transaction
		if err := tx.Model(&UsageLedger{}).
			Where("user_session_id = ? AND window_start <= ?", principalID, now.Add(-l.window)).
			Updates(map[string]any{"tokens_used": 0, "window_start": now}).Error; err != nil {
			return err
		}

		if err := tx.Model(&UsageLedger{}).
			Where("user_session_id = ?", principalID).
			Update("tokens_used", gorm.Expr("tokens_used + ?", amount)).Error; err != nil {
			return err
		}

		return tx.First(&post, "user_session_id = ?", principalID).Error
	})
	if err != nil {
		return false, Status{}, fmt.Errorf("ledger update: %w", err)
	}

	pre := post.TokensUsed - amount
	allowed := limit == Unlimited || pre < limit

	st := l.status(post.TokensUsed, post.WindowStart, limit, now)
	if !allowed {
		l.log.WithFields(logrus.Fields{
			"principal":   principalID,
			"tokens_used": post.TokensUsed,
			"daily_limit": limit,
		}).Warn("daily token limit reached")
	}
	return allowed, st, nil
}

func (l *Ledger) status(used int64, windowStart time.Time, limit int64, now time.Time) Status {
	remaining := int64(0)
	if limit == Unlimited {
		remaining = Unlimited
	} else if limit > used {
		remaining = limit - used
	}
	untilReset := l.window - now.Sub(windowStart)
	if untilReset < 0 {
		untilReset = 0
	}
	return Status{
		TokensUsed:        used,
		DailyLimit:        limit,
		Remaining:         remaining,
		WindowStart:       windowStart,
		SecondsUntilReset: int64(untilReset / time.Second),
	}
}

// resolveLimit fails open: metering protects cost, not correctness, so a
// limit lookup failure means "no ceiling" rather than a denied request.
func (l *Ledger) resolveLimit(ctx context.Context) int64 {
	if l.limits == nil {
		return Unlimited
	}
	limit, err := l.limits.DailyTokenLimit(ctx)
	if err != nil {
		l.log.WithError(err).Warn("daily limit lookup failed, treating as unlimited")
		return Unlimited
	}
	if limit <= 0 {
		return Unlimited
	}
	return limit
}

// EstimateTokens approximates token usage when the provider does not report
// actual counts: ~1.3 tokens per whitespace-separated word.
func EstimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	return int64(float64(len(strings.Fields(text))) * 1.3)
}
