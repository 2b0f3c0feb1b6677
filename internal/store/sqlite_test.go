// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers session CRUD, state transitions, usage totals, and retention purge

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

func testRecord(id string, createdAt time.Time) *SessionRecord {
	return &SessionRecord{
		ID:        id,
		State:     "running",
		WorkDir:   "/work",
		CreatedAt: createdAt,
	}
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateAndGetSession(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Second)
	rec := &SessionRecord{
		ID:        "session-123",
		State:     "running",
		WorkDir:   "/srv/work",
		Bypass:    true,
		CreatedAt: created,
	}

	if err := store.CreateSession(ctx, rec); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, "session-123")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.State != "running" {
		t.Errorf("State = %q, want %q", got.State, "running")
	}
	if got.WorkDir != "/srv/work" {
		t.Errorf("WorkDir = %q, want %q", got.WorkDir, "/srv/work")
	}
	if !got.Bypass {
		t.Error("Bypass should round-trip as true")
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil for a live session", got.EndedAt)
	}
	if got.ErrorCode != "" {
		t.Errorf("ErrorCode = %q, want empty", got.ErrorCode)
	}
}

func TestCreateSession_Duplicate(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	rec := testRecord("session-123", time.Now().UTC())

	if err := store.CreateSession(ctx, rec); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := store.CreateSession(ctx, rec); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("second CreateSession = %v, want ErrDuplicateSession", err)
	}
}

func TestReplaceSession(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	firstCreated := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	firstEnded := firstCreated.Add(time.Minute)

	old := &SessionRecord{
		ID:        "reused",
		State:     "completed",
		WorkDir:   "/old/work",
		Bypass:    true,
		CreatedAt: firstCreated,
		EndedAt:   &firstEnded,
	}
	if err := store.CreateSession(ctx, old); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := store.RecordUsage(ctx, &UsageRecord{SessionID: "reused", InputTokens: 500}); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	fresh := &SessionRecord{
		ID:        "reused",
		State:     "created",
		WorkDir:   "/new/work",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.ReplaceSession(ctx, fresh); err != nil {
		t.Fatalf("ReplaceSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, "reused")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.State != "created" {
		t.Errorf("State = %q, want %q", got.State, "created")
	}
	if got.WorkDir != "/new/work" {
		t.Errorf("WorkDir = %q, want %q", got.WorkDir, "/new/work")
	}
	if got.Bypass {
		t.Error("Bypass should not survive the replacement")
	}
	if !got.CreatedAt.Equal(fresh.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, fresh.CreatedAt)
	}
	if got.EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil after replacement", got.EndedAt)
	}
	if _, err := store.GetUsage(ctx, "reused"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old usage row should cascade on replace: %v", err)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetSession(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession = %v, want ErrNotFound", err)
	}
}

func TestUpdateSessionState(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateSession(ctx, testRecord("session-123", time.Now().UTC())); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	ended := time.Now().UTC().Truncate(time.Second)
	if err := store.UpdateSessionState(ctx, "session-123", "failed", "engine_exit", ended); err != nil {
		t.Fatalf("UpdateSessionState failed: %v", err)
	}

	got, err := store.GetSession(ctx, "session-123")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.State != "failed" {
		t.Errorf("State = %q, want %q", got.State, "failed")
	}
	if got.ErrorCode != "engine_exit" {
		t.Errorf("ErrorCode = %q, want %q", got.ErrorCode, "engine_exit")
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
	}
}

func TestUpdateSessionState_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.UpdateSessionState(context.Background(), "nope", "completed", "", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSessionState = %v, want ErrNotFound", err)
	}
}

func TestListSessions_OrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rec := testRecord(fmt.Sprintf("session-%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := store.CreateSession(ctx, rec); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	records, err := store.ListSessions(ctx, 3)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	// Most recent first
	if records[0].ID != "session-4" {
		t.Errorf("first record = %q, want session-4", records[0].ID)
	}
	if records[2].ID != "session-2" {
		t.Errorf("last record = %q, want session-2", records[2].ID)
	}
}

func TestRecordAndGetUsage(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateSession(ctx, testRecord("session-123", time.Now().UTC())); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	usage := &UsageRecord{SessionID: "session-123", InputTokens: 100, OutputTokens: 40, CachedTokens: 10}
	if err := store.RecordUsage(ctx, usage); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	// Cumulative counts replace earlier ones
	usage.InputTokens = 250
	if err := store.RecordUsage(ctx, usage); err != nil {
		t.Fatalf("RecordUsage (replace) failed: %v", err)
	}

	got, err := store.GetUsage(ctx, "session-123")
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if got.InputTokens != 250 || got.OutputTokens != 40 || got.CachedTokens != 10 {
		t.Errorf("usage = %+v, want input=250 output=40 cached=10", got)
	}
}

func TestGetUsage_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetUsage(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUsage = %v, want ErrNotFound", err)
	}
}

func TestSummarizeUsage(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()

	if err := store.CreateSession(ctx, testRecord("old", old)); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateSession(ctx, testRecord("new", recent)); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordUsage(ctx, &UsageRecord{SessionID: "old", InputTokens: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordUsage(ctx, &UsageRecord{SessionID: "new", InputTokens: 30, OutputTokens: 7}); err != nil {
		t.Fatal(err)
	}

	sum, err := store.SummarizeUsage(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("SummarizeUsage failed: %v", err)
	}
	if sum.Sessions != 1 {
		t.Errorf("Sessions = %d, want 1", sum.Sessions)
	}
	if sum.InputTokens != 30 || sum.OutputTokens != 7 {
		t.Errorf("summary = %+v, want input=30 output=7", sum)
	}
}

func TestPurgeSessionsBefore(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	oldEnd := time.Now().UTC().Add(-72 * time.Hour)

	oldRec := testRecord("old", oldEnd.Add(-time.Minute))
	oldRec.State = "completed"
	oldRec.EndedAt = &oldEnd
	if err := store.CreateSession(ctx, oldRec); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordUsage(ctx, &UsageRecord{SessionID: "old", InputTokens: 5}); err != nil {
		t.Fatal(err)
	}

	// Live session with no ended_at must survive any cutoff
	if err := store.CreateSession(ctx, testRecord("live", oldEnd)); err != nil {
		t.Fatal(err)
	}

	purged, err := store.PurgeSessionsBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeSessionsBefore failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if _, err := store.GetSession(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("purged session still present: %v", err)
	}
	if _, err := store.GetUsage(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("usage row should cascade on purge: %v", err)
	}
	if _, err := store.GetSession(ctx, "live"); err != nil {
		t.Errorf("live session should survive purge: %v", err)
	}
}
