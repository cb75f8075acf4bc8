package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/studyowl/textbook-ai/internal/ai"
	"github.com/studyowl/textbook-ai/internal/ledger"
	"github.com/studyowl/textbook-ai/internal/session"
	"github.com/studyowl/textbook-ai/internal/store/redisstore"
)

type fixedProvider struct {
	reply string
	usage ai.TokenUsage
	err   error
}

func (p *fixedProvider) Chat(ctx context.Context, messages []ai.Message) (string, ai.TokenUsage, error) {
	return p.reply, p.usage, p.err
}

type memoryReconciler struct {
	records []redisstore.LedgerFailure
}

func (r *memoryReconciler) RecordLedgerFailure(ctx context.Context, f redisstore.LedgerFailure) error {
	r.records = append(r.records, f)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&session.ChatSession{}, &session.Interaction{}, &ledger.UsageLedger{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, prov ai.Provider, limit int64) (*Service, *memoryReconciler) {
	t.Helper()
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		return prov, nil
	})
	lim := ledger.LimitFunc(func(ctx context.Context) (int64, error) { return limit, nil })
	rec := &memoryReconciler{}
	svc := NewService(
		db,
		session.NewGuard(db, nil),
		ledger.New(db, lim, 24*time.Hour, nil),
		reg,
		rec,
		"fake", "default", nil,
	)
	return svc, rec
}

func TestAsk_HappyPathTracksUsage(t *testing.T) {
	db := openTestDB(t)
	prov := &fixedProvider{reply: "the mitochondria", usage: ai.TokenUsage{InputTokens: 10, OutputTokens: 30}}
	svc, _ := newTestService(t, db, prov, 1000)
	ctx := context.Background()

	cs, err := svc.CreateSession(ctx, "principal-1", "bio study")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	res, err := svc.Ask(ctx, "principal-1", cs.ID, "what powers the cell?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if res.Reply != "the mitochondria" {
		t.Fatalf("reply = %q", res.Reply)
	}
	if res.Tokens != 40 {
		t.Fatalf("tokens = %d, want 40 (provider-reported)", res.Tokens)
	}
	if res.Usage.TokensUsed != 40 {
		t.Fatalf("ledger shows %d tokens, want 40", res.Usage.TokensUsed)
	}

	// each answered question logs a user turn and an AI turn
	var turns []session.Interaction
	if err := db.Where("chat_session_id = ?", cs.ID).Order("id").Find(&turns).Error; err != nil {
		t.Fatalf("load interactions: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("interactions = %d, want 2", len(turns))
	}
	if turns[0].SenderRole != session.RoleUser || turns[0].Content != "what powers the cell?" {
		t.Fatalf("user turn = %+v", turns[0])
	}
	if turns[1].SenderRole != session.RoleAI || turns[1].Content != "the mitochondria" {
		t.Fatalf("ai turn = %+v", turns[1])
	}
}

func TestAsk_EstimatesWhenProviderSilent(t *testing.T) {
	db := openTestDB(t)
	// 4-word question + 6-word reply, no reported usage
	prov := &fixedProvider{reply: "it is the powerhouse of cells"}
	svc, _ := newTestService(t, db, prov, 1000)
	ctx := context.Background()

	cs, _ := svc.CreateSession(ctx, "p1", "")
	res, err := svc.Ask(ctx, "p1", cs.ID, "what powers the cell")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	want := ledger.EstimateTokens("what powers the cell") + ledger.EstimateTokens(prov.reply)
	if res.Tokens != want {
		t.Fatalf("tokens = %d, want estimate %d", res.Tokens, want)
	}
}

func TestAsk_RejectsSuspiciousSessionID(t *testing.T) {
	svc, _ := newTestService(t, openTestDB(t), &fixedProvider{reply: "x"}, 1000)

	_, err := svc.Ask(context.Background(), "p1", "abc'; DROP TABLE jobs;--", "q")
	var verr *session.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *session.ValidationError", err)
	}
}

func TestAsk_DeniesForeignSession(t *testing.T) {
	db := openTestDB(t)
	svc, _ := newTestService(t, db, &fixedProvider{reply: "x"}, 1000)
	ctx := context.Background()

	cs, _ := svc.CreateSession(ctx, "user-Y", "")

	_, err := svc.Ask(ctx, "user-X", cs.ID, "q")
	var oerr *session.OwnershipError
	if !errors.As(err, &oerr) {
		t.Fatalf("err = %v, want *session.OwnershipError", err)
	}
}

func TestAsk_DeniedWhenBudgetExhausted(t *testing.T) {
	db := openTestDB(t)
	prov := &fixedProvider{reply: "x", usage: ai.TokenUsage{InputTokens: 60, OutputTokens: 60}}
	svc, _ := newTestService(t, db, prov, 100)
	ctx := context.Background()

	cs, _ := svc.CreateSession(ctx, "p1", "")

	// first ask records 120 tokens, exhausting the limit of 100
	if _, err := svc.Ask(ctx, "p1", cs.ID, "q1"); err != nil {
		t.Fatalf("first ask: %v", err)
	}

	_, err := svc.Ask(ctx, "p1", cs.ID, "q2")
	var lerr *LimitExceededError
	if !errors.As(err, &lerr) {
		t.Fatalf("err = %v, want *LimitExceededError", err)
	}
	if lerr.Status.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", lerr.Status.Remaining)
	}
}

func TestAsk_LedgerFailureFailsOpenAndReconciles(t *testing.T) {
	db := openTestDB(t)
	prov := &fixedProvider{reply: "x", usage: ai.TokenUsage{InputTokens: 5, OutputTokens: 5}}
	svc, rec := newTestService(t, db, prov, 1000)
	ctx := context.Background()

	cs, _ := svc.CreateSession(ctx, "p1", "")

	// break the ledger table after session creation
	if err := db.Migrator().DropTable(&ledger.UsageLedger{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	res, err := svc.Ask(ctx, "p1", cs.ID, "q")
	if err != nil {
		t.Fatalf("ask must fail open on ledger failure, got %v", err)
	}
	if res.Reply != "x" {
		t.Fatalf("reply = %q", res.Reply)
	}
	if len(rec.records) != 1 {
		t.Fatalf("reconciliation records = %d, want 1", len(rec.records))
	}
	if rec.records[0].PrincipalID != "p1" || rec.records[0].Tokens != 10 {
		t.Fatalf("unexpected reconciliation record: %+v", rec.records[0])
	}
}
