// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord // keyed by session ID
	usage    map[string]*UsageRecord   // keyed by session ID

	// FailWith, when set, is returned from every mutating call. Lets tests
	// exercise the gateway's persistence-failure paths.
	FailWith error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]*SessionRecord),
		usage:    make(map[string]*UsageRecord),
	}
}

// CreateSession stores a new session record.
func (m *MockStore) CreateSession(ctx context.Context, rec *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}
	if _, ok := m.sessions[rec.ID]; ok {
		return ErrDuplicateSession
	}

	// Make a copy to avoid external modification
	r := *rec
	m.sessions[r.ID] = &r
	return nil
}

// ReplaceSession overwrites an existing record and drops its usage row.
func (m *MockStore) ReplaceSession(ctx context.Context, rec *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}
	r := *rec
	m.sessions[r.ID] = &r
	delete(m.usage, r.ID)
	return nil
}

// GetSession retrieves a session record by ID.
func (m *MockStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *r
	return &result, nil
}

// UpdateSessionState records a state transition.
func (m *MockStore) UpdateSessionState(ctx context.Context, id, state, errorCode string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}
	r, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}

	r.State = state
	r.ErrorCode = errorCode
	if !endedAt.IsZero() {
		t := endedAt
		r.EndedAt = &t
	}
	return nil
}

// ListSessions returns records ordered by most recent creation.
func (m *MockStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	out := make([]*SessionRecord, 0, len(m.sessions))
	for _, r := range m.sessions {
		result := *r
		out = append(out, &result)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordUsage saves or replaces the token totals for a session.
func (m *MockStore) RecordUsage(ctx context.Context, rec *UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}
	r := *rec
	m.usage[r.SessionID] = &r
	return nil
}

// GetUsage retrieves the token totals for a session.
func (m *MockStore) GetUsage(ctx context.Context, sessionID string) (*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.usage[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *r
	return &result, nil
}

// SummarizeUsage aggregates token totals for sessions created at or after since.
func (m *MockStore) SummarizeUsage(ctx context.Context, since time.Time) (*UsageSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum UsageSummary
	for id, u := range m.usage {
		s, ok := m.sessions[id]
		if !ok || s.CreatedAt.Before(since) {
			continue
		}
		sum.Sessions++
		sum.InputTokens += u.InputTokens
		sum.OutputTokens += u.OutputTokens
		sum.CachedTokens += u.CachedTokens
	}
	return &sum, nil
}

// PurgeSessionsBefore deletes terminal records that ended before the cutoff.
func (m *MockStore) PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return 0, m.FailWith
	}

	var purged int64
	for id, r := range m.sessions {
		if r.EndedAt != nil && r.EndedAt.Before(cutoff) {
			delete(m.sessions, id)
			delete(m.usage, id)
			purged++
		}
	}
	return purged, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
