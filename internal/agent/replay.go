package agent

import (
	"sync"
	"time"
)

// ReplayCache remembers the nonces of accepted signed requests so a captured
// request cannot be submitted twice. Entries outlive the signing window in
// both directions of clock drift.
type ReplayCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewReplayCache returns a cache holding nonces for twice TimestampWindow.
func NewReplayCache() *ReplayCache {
	return &ReplayCache{
		seen: make(map[string]time.Time),
		ttl:  2 * TimestampWindow,
		now:  time.Now,
	}
}

// Observe records nonce for key. It returns false if the pair was already
// recorded and has not expired.
func (c *ReplayCache) Observe(key, nonce string) bool {
	id := key + ":" + nonce
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if at, ok := c.seen[id]; ok && now.Sub(at) <= c.ttl {
		return false
	}
	c.seen[id] = now
	return true
}

// Prune drops expired entries and returns how many were removed.
func (c *ReplayCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for id, at := range c.seen {
		if now.Sub(at) > c.ttl {
			delete(c.seen, id)
			n++
		}
	}
	return n
}

// Len returns the number of remembered nonces.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
