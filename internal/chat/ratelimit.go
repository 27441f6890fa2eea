package chat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client chat limits.
type RateLimitConfig struct {
	// PerSecond is the sustained message rate
	PerSecond float64
	// Burst is how many messages may be sent back to back
	Burst int
	// IdleExpiry drops limiter state for clients silent this long
	IdleExpiry time.Duration
}

// DefaultRateLimitConfig for lobby chat
var DefaultRateLimitConfig = RateLimitConfig{
	PerSecond:  1,               // one message per second sustained
	Burst:      5,               // short bursts allowed
	IdleExpiry: 5 * time.Minute, // forget quiet clients
}

// RateLimiter implements per-client chat rate limiting.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[uint32]*clientLimit
	config  RateLimitConfig
}

type clientLimit struct {
	limiter *rate.Limiter
	lastMsg time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		clients: make(map[uint32]*clientLimit),
		config:  cfg,
	}
}

// Allow reports whether client may send a message at now.
func (rl *RateLimiter) Allow(client uint32, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[client]
	if !ok {
		cl = &clientLimit{limiter: rate.NewLimiter(rate.Limit(rl.config.PerSecond), rl.config.Burst)}
		rl.clients[client] = cl
	}
	cl.lastMsg = now
	return cl.limiter.AllowN(now, 1)
}

// Forget drops client's state, e.g. after it disconnects.
func (rl *RateLimiter) Forget(client uint32) {
	rl.mu.Lock()
	delete(rl.clients, client)
	rl.mu.Unlock()
}

// Sweep removes clients idle since before now - IdleExpiry and returns how
// many were removed.
func (rl *RateLimiter) Sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.config.IdleExpiry)
	n := 0
	for id, cl := range rl.clients {
		if cl.lastMsg.Before(cutoff) {
			delete(rl.clients, id)
			n++
		}
	}
	return n
}

func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
