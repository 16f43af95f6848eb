package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter implements per-client request limiting with token buckets.
// ARCHITECTURAL DISCOVERY: Per-client state tracking with periodic cleanup
// prevents memory leaks from one-off clients
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
	rate    rate.Limit
	burst   int
}

// clientLimit tracks one client's bucket and when it was last used.
type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing r requests per second with the
// given burst per client.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimit),
		rate:    r,
		burst:   burst,
	}
}

// Allow reports whether the client may make a request now.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.clients[clientID]
	if !ok {
		limit = &clientLimit{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[clientID] = limit
	}
	limit.lastSeen = time.Now()

	return limit.limiter.Allow()
}

// Cleanup removes clients idle longer than maxIdle. Call periodically.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for clientID, limit := range rl.clients {
		if now.Sub(limit.lastSeen) > maxIdle {
			delete(rl.clients, clientID)
		}
	}
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
