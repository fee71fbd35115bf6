// ABOUTME: Thread-safe TTL cache that makes retried requests idempotent.
// ABOUTME: Remembers the result of a keyed operation so a retry gets the same answer.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Status is the outcome of claiming a key.
type Status int

const (
	// Claimed means the key was new; the caller owns the operation and must
	// Complete or Release it.
	Claimed Status = iota
	// Pending means another caller claimed the key and hasn't finished.
	Pending
	// Done means the operation finished; the stored result is returned.
	Done
)

func (s Status) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case Pending:
		return "pending"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

type cacheEntry[V any] struct {
	timestamp time.Time
	element   *list.Element
	value     V
	done      bool
}

// Cache is a TTL-based, size-limited map from idempotency keys to results.
// A doubly-linked list keeps insertion order for O(1) eviction.
type Cache[V any] struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry[V]
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	c := &Cache[V]{
		seen:    make(map[string]*cacheEntry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// has reports whether the key is present and not expired.
func (c *Cache[V]) has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	return ok && time.Since(entry.timestamp) < c.ttl
}

// Claim atomically looks up key and claims it if absent or expired.
// The stored value is only meaningful when the status is Done.
func (c *Cache[V]) Claim(key string) (V, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && time.Since(entry.timestamp) < c.ttl {
		if entry.done {
			return entry.value, Done
		}
		var zero V
		return zero, Pending
	}

	var zero V
	c.putLocked(key, zero, false)
	return zero, Claimed
}

// Complete stores the result for a claimed key and restarts its TTL.
func (c *Cache[V]) Complete(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, value, true)
}

// Release drops a claim so the operation can be retried.
func (c *Cache[V]) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// size returns the number of entries, expired or not.
func (c *Cache[V]) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

// putLocked inserts or refreshes an entry. Must be called with mu held.
func (c *Cache[V]) putLocked(key string, value V, done bool) {
	now := time.Now()

	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		entry.value = value
		entry.done = done
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry[V]{
		timestamp: now,
		element:   elem,
		value:     value,
		done:      done,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache[V]) cleanup() {
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
func (c *Cache[V]) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
