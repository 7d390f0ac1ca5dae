package podds

import (
	"sync"
	"time"
)

// ResponseCache holds the last live-edge snapshot, indexed by fixture id.
// The snapshot is fresh for ttl after it was stored.
type ResponseCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	updated time.Time
	edges   []Edge
	byID    map[int64]Edge
}

// NewResponseCache returns an empty cache
func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{ttl: ttl, now: time.Now, byID: map[int64]Edge{}}
}

// Put replaces the snapshot
func (c *ResponseCache) Put(edges []Edge) {
	byID := make(map[int64]Edge, len(edges))
	for _, e := range edges {
		byID[e.ID] = e
	}
	c.mu.Lock()
	c.edges = append([]Edge(nil), edges...)
	c.byID = byID
	c.updated = c.now()
	c.mu.Unlock()
}

// Fresh returns the snapshot if it is non-empty and younger than the ttl
func (c *ResponseCache) Fresh() ([]Edge, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.edges) == 0 || c.now().Sub(c.updated) >= c.ttl {
		return nil, false
	}
	return append([]Edge(nil), c.edges...), true
}

// Last returns the snapshot regardless of age
func (c *ResponseCache) Last() []Edge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Edge(nil), c.edges...)
}

// Get returns one fixture from the snapshot
func (c *ResponseCache) Get(fixtureID int64) (Edge, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[fixtureID]
	return e, ok
}

// UpdatedAt is when the snapshot was stored, zero if never
func (c *ResponseCache) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}
