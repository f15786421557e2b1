package alerts

import (
	"sync"
	"time"
)

// Cooldown remembers when each dedup key last fired.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

// AllowKey reports whether key may fire at now and, if so, stamps it.
// The previous stamp is returned so a caller can roll back.
func (c *Cooldown) AllowKey(key string, now time.Time, cooldown time.Duration) (bool, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.last[key]
	if ok && cooldown > 0 && now.Sub(prev) < cooldown {
		return false, prev
	}
	c.last[key] = now
	if len(c.last) > 10000 {
		c.compact(now, cooldown)
	}
	return true, prev
}

// Restore puts back a previous stamp. A zero prev forgets the key.
func (c *Cooldown) Restore(key string, prev time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev.IsZero() {
		delete(c.last, key)
		return
	}
	c.last[key] = prev
}

func (c *Cooldown) Last(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.last[key]
	return ts, ok
}

func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}

func (c *Cooldown) compact(now time.Time, ttl time.Duration) {
	for k, ts := range c.last {
		if now.Sub(ts) > ttl {
			delete(c.last, k)
		}
	}
}
