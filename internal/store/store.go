// ABOUTME: Store interface and data types for gateway persistence.
// ABOUTME: Defines SessionRecord, UsageRecord and the Store interface for database operations.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when trying to create a session record
// whose id already exists
var ErrDuplicateSession = errors.New("session already exists")

// SessionRecord is the persisted metadata for one conversation turn.
// Message content and event payloads are never persisted; the record exists
// for inspection, usage accounting, and retention.
type SessionRecord struct {
	ID        string
	State     string
	ErrorCode string
	WorkDir   string
	Bypass    bool
	CreatedAt time.Time
	EndedAt   *time.Time
}

// UsageRecord holds the token totals reported by the engine for one session.
// Repeated token_count events overwrite earlier totals; the engine reports
// cumulative counts.
type UsageRecord struct {
	SessionID    string
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
}

// UsageSummary aggregates token totals across sessions.
type UsageSummary struct {
	Sessions     int64
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
}

// Store defines the interface for session metadata and usage persistence
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, rec *SessionRecord) error
	ReplaceSession(ctx context.Context, rec *SessionRecord) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	UpdateSessionState(ctx context.Context, id, state, errorCode string, endedAt time.Time) error
	ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	// Usage
	RecordUsage(ctx context.Context, rec *UsageRecord) error
	GetUsage(ctx context.Context, sessionID string) (*UsageRecord, error)
	SummarizeUsage(ctx context.Context, since time.Time) (*UsageSummary, error)

	// Retention
	PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Lifecycle
	Close() error
}
