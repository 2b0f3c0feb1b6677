// ABOUTME: Thread-safe TTL cache of recently terminated session summaries.
// ABOUTME: Lets the inspection API answer for sessions that just finished.

package session

import (
	"container/list"
	"sync"
	"time"
)

// Terminated is the retained summary of a finished session.
type Terminated struct {
	ID        string
	State     State
	ErrorCode string
	EndedAt   time.Time
}

// recentEntry stores the summary and list element for a cached id.
type recentEntry struct {
	summary Terminated
	element *list.Element
}

// RecentCache is a thread-safe, TTL-based, size-limited cache of terminated
// session summaries. Uses a doubly-linked list to maintain insertion order
// for O(1) eviction.
type RecentCache struct {
	mu      sync.RWMutex
	entries map[string]*recentEntry
	order   *list.List // ids in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewRecentCache creates a cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func NewRecentCache(ttl time.Duration, maxSize int) *RecentCache {
	c := &RecentCache{
		entries: make(map[string]*recentEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Add records a terminated session, evicting the oldest entry at capacity.
// Re-adding an id refreshes its summary and position.
func (c *RecentCache) Add(t Terminated) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[t.ID]; exists {
		entry.summary = t
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(t.ID)
	c.entries[t.ID] = &recentEntry{summary: t, element: elem}
}

// Lookup returns the summary for an id if it is cached and not expired.
func (c *RecentCache) Lookup(id string) (Terminated, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[id]
	if !ok || time.Since(entry.summary.EndedAt) > c.ttl {
		return Terminated{}, false
	}
	return entry.summary, true
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *RecentCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, id)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *RecentCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *RecentCache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, entry := range c.entries {
		if now.Sub(entry.summary.EndedAt) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, id)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *RecentCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
