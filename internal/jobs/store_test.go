package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

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
	// single connection so concurrent transactions serialize instead of
	// tripping sqlite write locks
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if err := db.Exec(`create unique index if not exists uq_jobs_textbook_id on jobs(textbook_id) where textbook_id is not null;`).Error; err != nil {
		t.Fatalf("index: %v", err)
	}
	return db
}

func strptr(s string) *string { return &s }

func TestCreateOrReset_InsertsFreshWithoutSubject(t *testing.T) {
	s := NewStore(openTestDB(t), nil)
	ctx := context.Background()

	id1, err := s.CreateOrReset(ctx, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id2, err := s.CreateOrReset(ctx, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected two distinct job records, got %s twice", id1)
	}

	j, err := s.GetByID(ctx, id1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != StatusPending {
		t.Fatalf("new job status = %s, want pending", j.Status)
	}
	if j.TextbookID != nil {
		t.Fatalf("expected nil textbook id")
	}
}

func TestCreateOrReset_ResetsExistingRecord(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db, nil)
	ctx := context.Background()

	id, err := s.CreateOrReset(ctx, strptr("T1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// drive the record into a terminal state with run-scoped fields set
	if err := s.AttachRunHandle(ctx, id, "jr_abc123"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	msg := "glue exploded"
	if err := s.MarkTerminal(ctx, id, StatusFailed, &msg); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := db.Model(&Job{}).Where("id = ?", id).Update("ingested_sections", 42).Error; err != nil {
		t.Fatalf("seed progress: %v", err)
	}

	id2, err := s.CreateOrReset(ctx, strptr("T1"))
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if id2 != id {
		t.Fatalf("re-ingestion created a new record: %s != %s", id2, id)
	}

	j, err := s.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != StatusPending {
		t.Fatalf("status = %s, want pending", j.Status)
	}
	if j.IngestedSections != 0 {
		t.Fatalf("progress counter = %d, want 0", j.IngestedSections)
	}
	if j.ErrorMessage != nil {
		t.Fatalf("error message = %q, want nil", *j.ErrorMessage)
	}
	if j.CompletedAt != nil {
		t.Fatalf("completed_at not cleared")
	}
	if j.GlueRunID != nil {
		t.Fatalf("glue run id not cleared")
	}
}

func TestCreateOrReset_ConcurrentSameSubjectYieldsOneRecord(t *testing.T) {
	db := openTestDB(t)
	s := NewStore(db, nil)

	const callers = 4
	ids := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = s.CreateOrReset(context.Background(), strptr("T-race"))
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got job %s, caller 0 got %s", i, ids[i], ids[0])
		}
	}

	var n int64
	if err := db.Model(&Job{}).Where("textbook_id = ?", "T-race").Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 job record, got %d", n)
	}
}

func TestAttachRunHandle_Idempotent(t *testing.T) {
	s := NewStore(openTestDB(t), nil)
	ctx := context.Background()

	id, err := s.CreateOrReset(ctx, strptr("T2"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.AttachRunHandle(ctx, id, "jr_1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := s.AttachRunHandle(ctx, id, "jr_1"); err != nil {
		t.Fatalf("re-attach same handle: %v", err)
	}
	// the runner is authoritative; a different handle overwrites
	if err := s.AttachRunHandle(ctx, id, "jr_2"); err != nil {
		t.Fatalf("attach different handle: %v", err)
	}

	j, err := s.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != StatusRunning {
		t.Fatalf("status = %s, want running", j.Status)
	}
	if j.GlueRunID == nil || *j.GlueRunID != "jr_2" {
		t.Fatalf("glue run id = %v, want jr_2", j.GlueRunID)
	}
}

func TestAttachRunHandle_RejectsTerminalJob(t *testing.T) {
	s := NewStore(openTestDB(t), nil)
	ctx := context.Background()

	id, err := s.CreateOrReset(ctx, strptr("T3"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MarkTerminal(ctx, id, StatusCompleted, nil); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := s.AttachRunHandle(ctx, id, "jr_late"); err == nil {
		t.Fatalf("expected attach to a completed job to fail")
	}
}

func TestMarkTerminal(t *testing.T) {
	s := NewStore(openTestDB(t), nil)
	ctx := context.Background()

	id, err := s.CreateOrReset(ctx, strptr("T4"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.MarkTerminal(ctx, id, StatusRunning, nil); err == nil {
		t.Fatalf("expected non-terminal status to be rejected")
	}

	before := time.Now()
	if err := s.MarkTerminal(ctx, id, StatusCompleted, nil); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	j, err := s.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", j.Status)
	}
	if j.CompletedAt == nil || j.CompletedAt.Before(before.Add(-time.Second)) {
		t.Fatalf("completed_at not set: %v", j.CompletedAt)
	}

	if err := s.MarkTerminal(ctx, "no-such-job", StatusFailed, nil); err == nil {
		t.Fatalf("expected unknown job to fail")
	}
}
