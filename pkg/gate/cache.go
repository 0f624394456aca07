package gate

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// sweepThreshold is the entry count above which puts evict expired entries.
const sweepThreshold = 1024

// lastKnown remembers the most recent successful read per user for at most
// maxAge. It is consulted only when the store fails.
type lastKnown[T any] struct {
	mu      sync.Mutex
	maxAge  time.Duration
	entries map[uuid.UUID]cacheEntry[T]
}

type cacheEntry[T any] struct {
	value     T
	fetchedAt time.Time
}

func newLastKnown[T any](maxAge time.Duration) *lastKnown[T] {
	return &lastKnown[T]{maxAge: maxAge, entries: make(map[uuid.UUID]cacheEntry[T])}
}

func (c *lastKnown[T]) put(userID uuid.UUID, value T, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= sweepThreshold {
		for id, e := range c.entries {
			if at.Sub(e.fetchedAt) > c.maxAge {
				delete(c.entries, id)
			}
		}
	}
	c.entries[userID] = cacheEntry[T]{value: value, fetchedAt: at}
}

func (c *lastKnown[T]) get(userID uuid.UUID, now time.Time) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok || now.Sub(e.fetchedAt) > c.maxAge {
		delete(c.entries, userID)
		var zero T
		return zero, false
	}
	return e.value, true
}

func (c *lastKnown[T]) forget(userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}
