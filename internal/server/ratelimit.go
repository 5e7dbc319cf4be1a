package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterConfig holds per-connection inbound line limits.
type RateLimiterConfig struct {
	LinesPerSecond float64
	BurstSize      int
}

// DefaultRateLimiterConfig is generous enough for interactive chat while
// stopping a single socket from flooding the broadcast queue.
var DefaultRateLimiterConfig = RateLimiterConfig{
	LinesPerSecond: 50,
	BurstSize:      100,
}

// RateLimiter hands out one token bucket per connection.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	config   RateLimiterConfig
}

// NewRateLimiter creates a limiter pool with the given config.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		config:   config,
	}
}

// GetLimiter returns the bucket for a session ID, creating it on first use.
func (r *RateLimiter) GetLimiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limiter, exists := r.limiters[key]; exists {
		return limiter
	}

	limiter := rate.NewLimiter(rate.Limit(r.config.LinesPerSecond), r.config.BurstSize)
	r.limiters[key] = limiter
	return limiter
}

// RemoveLimiter drops a bucket when its connection closes.
func (r *RateLimiter) RemoveLimiter(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, key)
}
