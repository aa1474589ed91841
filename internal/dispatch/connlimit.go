package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// connLimiter enforces spec §4.1 step 2's per-connection rate limit
// using a token bucket per connection id, grounded on the teacher
// pack's gin RateLimiter (streamspace's internal/middleware/ratelimit.go):
// one x/time/rate.Limiter per key, created lazily, swept periodically.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type connLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	perSec   rate.Limit
	burst    int
}

func newConnLimiter(requestsPerSecond float64, burst int) *connLimiter {
	return &connLimiter{
		limiters: make(map[string]*limiterEntry),
		perSec:   rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (c *connLimiter) get(connID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.limiters[connID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(c.perSec, c.burst)}
		c.limiters[connID] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Allow reports whether connID may issue another command right now.
func (c *connLimiter) Allow(connID string) bool {
	return c.get(connID).Allow()
}

// forget drops a closed connection's limiter state.
func (c *connLimiter) forget(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.limiters, connID)
}

// sweep removes limiters untouched since before cutoff, bounding
// memory for long-lived servers with many short connections.
func (c *connLimiter) sweep(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(c.limiters, id)
		}
	}
}

// startSweeper runs sweep on a ticker until stop is closed, mirroring
// the teacher's cleanupRoutine goroutine.
func (c *connLimiter) startSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep(time.Now().Add(-interval))
			case <-stop:
				return
			}
		}
	}()
}
