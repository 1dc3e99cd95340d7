package keeper

import (
	"sync"
	"time"
)

// Cooldown keeps a pool out of rotation for a while after a hard failure so
// one broken route does not eat every tick. It is safe for concurrent use.
type Cooldown struct {
	mu     sync.Mutex
	failed map[uint64]time.Time
	ttl    time.Duration
}

// NewCooldown creates a Cooldown holding pools back for ttl.
func NewCooldown(ttl time.Duration) *Cooldown {
	return &Cooldown{failed: make(map[uint64]time.Time), ttl: ttl}
}

// Blocked reports whether poolID failed within ttl of now.
func (c *Cooldown) Blocked(poolID uint64, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.failed[poolID]
	return ok && now.Sub(at) < c.ttl
}

// Mark records a failure of poolID at now.
func (c *Cooldown) Mark(poolID uint64, now time.Time) {
	c.mu.Lock()
	c.failed[poolID] = now
	c.mu.Unlock()
}

// Clear forgets poolID after a successful swap.
func (c *Cooldown) Clear(poolID uint64) {
	c.mu.Lock()
	delete(c.failed, poolID)
	c.mu.Unlock()
}

// Cleanup drops entries older than ttl.
func (c *Cooldown) Cleanup(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, at := range c.failed {
		if now.Sub(at) >= c.ttl {
			delete(c.failed, id)
		}
	}
}
