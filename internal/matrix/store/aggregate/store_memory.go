// Package aggregate caches derived subtree aggregates (descendant counts). Entries are
// invalidated for every ancestor of a new position. Every position also carries a
// generation that invalidation advances; a count is stored only under the generation
// it was read at, so a recompute that started before an invalidation cannot
// overwrite it. The TTL bounds the lifetime of an entry.
package aggregate

import (
	"context"
	"sync"
	"time"

	id "matrix/pkg/domain"
)

type entry struct {
	count     int
	expiresAt time.Time
}

// InMemoryCache is a process-local descendant-count cache.
type InMemoryCache struct {
	mu          sync.RWMutex
	entries     map[id.PositionID]entry
	generations map[id.PositionID]int64
	ttl         time.Duration
	clock       func() time.Time
}

// InMemoryOption configures an InMemoryCache.
type InMemoryOption func(*InMemoryCache)

// WithClock sets the clock used for expiry.
func WithClock(clock func() time.Time) InMemoryOption {
	return func(c *InMemoryCache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func NewInMemory(ttl time.Duration, opts ...InMemoryOption) *InMemoryCache {
	c := &InMemoryCache{
		entries:     make(map[id.PositionID]entry),
		generations: make(map[id.PositionID]int64),
		ttl:         ttl,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetDescendantCount returns the cached count and the current generation of positionID.
// The generation is returned on a miss too; pass it to SetDescendantCount.
func (c *InMemoryCache) GetDescendantCount(_ context.Context, positionID id.PositionID) (int, int64, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[positionID]
	gen := c.generations[positionID]
	c.mu.RUnlock()
	if !ok || !c.clock().Before(e.expiresAt) {
		return 0, gen, false, nil
	}
	return e.count, gen, true, nil
}

// SetDescendantCount stores count unless positionID was invalidated after generation was read.
func (c *InMemoryCache) SetDescendantCount(_ context.Context, positionID id.PositionID, count int, generation int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[positionID] != generation {
		return nil
	}
	c.entries[positionID] = entry{count: count, expiresAt: c.clock().Add(c.ttl)}
	return nil
}

// Invalidate drops the cached counts of positionIDs and advances their generations.
func (c *InMemoryCache) Invalidate(_ context.Context, positionIDs ...id.PositionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, positionID := range positionIDs {
		delete(c.entries, positionID)
		c.generations[positionID]++
	}
	return nil
}
