package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/studyowl/textbook-ai/internal/ai"
	"github.com/studyowl/textbook-ai/internal/ledger"
	"github.com/studyowl/textbook-ai/internal/session"
	"github.com/studyowl/textbook-ai/internal/store/redisstore"
)

// Reconciler records ledger updates that could not be persisted. Metering
// fails open, so these are kept aside instead of failing the request.
type Reconciler interface {
	RecordLedgerFailure(ctx context.Context, f redisstore.LedgerFailure) error
}

// LimitExceededError is returned from Ask when the principal's budget was
// already exhausted before the question ran. Carries the usage snapshot for
// the caller's error payload.
type LimitExceededError struct {
	Status ledger.Status
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("daily token limit of %d reached, resets in %.1f hours",
		e.Status.DailyLimit, e.Status.HoursUntilReset())
}

// Service runs the question flow: session guard, budget pre-check, provider
// call, post-hoc usage update, interaction log.
type Service struct {
	db         *gorm.DB
	guard      *session.Guard
	ledger     *ledger.Ledger
	registry   *ai.Registry
	reconciler Reconciler

	providerName string
	model        string
	log          *logrus.Entry
}

func NewService(db *gorm.DB, guard *session.Guard, l *ledger.Ledger, registry *ai.Registry, reconciler Reconciler, providerName, model string, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		db:           db,
		guard:        guard,
		ledger:       l,
		registry:     registry,
		reconciler:   reconciler,
		providerName: providerName,
		model:        model,
		log:          log,
	}
}

// CreateSession mints a new chat session owned by principalID. The mapping
// row is the only place ownership is ever recorded.
func (s *Service) CreateSession(ctx context.Context, principalID, name string) (*session.ChatSession, error) {
	cs := &session.ChatSession{
		ID:            s.guard.GenerateID(),
		UserSessionID: principalID,
		Name:          name,
	}
	if err := s.db.WithContext(ctx).Create(cs).Error; err != nil {
		return nil, err
	}
	return cs, nil
}

type AskResult struct {
	Reply  string
	Usage  ledger.Status
	Tokens int64
}

// Ask answers one question within a chat session.
//
// The budget pre-check happens before the provider call and the usage update
// after it, so a burst of concurrent requests can each pass the pre-check
// before any update lands; the daily limit is soft under concurrency.
func (s *Service) Ask(ctx context.Context, principalID, chatSessionID, question string) (*AskResult, error) {
	chatSessionID, err := s.guard.Sanitize(chatSessionID)
	if err != nil {
		return nil, err
	}

	if !s.guard.VerifyOwnership(ctx, chatSessionID, principalID) {
		return nil, &session.OwnershipError{Reason: "session not owned by principal"}
	}

	// pre-check; a ledger read failure does not block the question
	if st, err := s.ledger.GetStatus(ctx, principalID); err != nil {
		s.log.WithError(err).Warn("budget pre-check failed, proceeding")
	} else if st.Limited() && st.Remaining <= 0 {
		return nil, &LimitExceededError{Status: st}
	}

	provider, err := s.registry.Get(ctx, s.providerName, s.model)
	if err != nil {
		return nil, err
	}

	reply, usage, err := provider.Chat(ctx, []ai.Message{{Role: "user", Content: question}})
	if err != nil {
		return nil, err
	}

	tokens := usage.Total()
	if tokens == 0 {
		tokens = ledger.EstimateTokens(question) + ledger.EstimateTokens(reply)
	}

	// post-hoc update: the expensive work already ran, so a failure here is
	// recorded for reconciliation rather than surfaced to the user
	_, st, err := s.ledger.CheckAndUpdate(ctx, principalID, tokens)
	if err != nil {
		s.log.WithError(err).WithField("principal", principalID).
			Error("usage update failed, recording for reconciliation")
		if s.reconciler != nil {
			if rerr := s.reconciler.RecordLedgerFailure(ctx, redisstore.LedgerFailure{
				PrincipalID: principalID,
				Tokens:      tokens,
				FailedAt:    time.Now(),
				Reason:      err.Error(),
			}); rerr != nil {
				s.log.WithError(rerr).Error("reconciliation record failed")
			}
		}
		st, _ = s.ledger.GetStatus(ctx, principalID)
	}

	// analytics log, best effort: one row per conversation turn
	turns := []session.Interaction{
		{ChatSessionID: chatSessionID, SenderRole: session.RoleUser, Content: question},
		{ChatSessionID: chatSessionID, SenderRole: session.RoleAI, Content: reply},
	}
	if err := s.db.WithContext(ctx).Create(&turns).Error; err != nil {
		s.log.WithError(err).Warn("interaction log failed")
	}

	return &AskResult{Reply: reply, Usage: st, Tokens: tokens}, nil
}

// UsageStatus reports the principal's current budget snapshot.
func (s *Service) UsageStatus(ctx context.Context, principalID string) (ledger.Status, error) {
	return s.ledger.GetStatus(ctx, principalID)
}

// SessionsFor lists sessions owned by principalID, newest first.
func (s *Service) SessionsFor(ctx context.Context, principalID string) ([]session.ChatSession, error) {
	var out []session.ChatSession
	err := s.db.WithContext(ctx).
		Where("user_session_id = ?", principalID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsNotFound reports whether err should surface as "not found" to callers.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
