// ABOUTME: Registry tracks live sessions by id for duplicate detection and inspection.
// ABOUTME: Register fails on a live duplicate; Unregister is idempotent.

package session

import (
	"sort"
	"sync"
)

// Registry is the set of currently-active sessions. Terminated sessions are
// removed by the request handler that owns them; the registry never holds a
// session past its terminal state for long.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session. A live session with the same id makes this a
// *ConflictError and the registry is unchanged.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return &ConflictError{ID: s.ID}
	}
	r.sessions[s.ID] = s
	return nil
}

// Unregister removes a session by id. Removing an absent id is a no-op, so
// deferred cleanup paths can call it unconditionally.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Lookup returns the live session with the given id, if any.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Active returns the live sessions sorted by creation time, oldest first.
func (r *Registry) Active() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CancelAll requests cancellation of every live session. Used on shutdown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
}
