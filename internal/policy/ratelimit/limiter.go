// Package ratelimit implements token bucket limiters keyed by feed source.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-feed-crawler/internal/metrics"
)

// Limiter manages one token bucket per source ID.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Config holds the rate for one source. A non-positive RPS means unlimited.
type Config struct {
	RPS   float64
	Burst int
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter)}
}

// Register installs (or replaces) the bucket for source.
func (l *Limiter) Register(source string, cfg Config) {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	l.mu.Lock()
	l.limiters[source] = rate.NewLimiter(r, burst)
	l.mu.Unlock()
}

// Wait blocks until a token is available for source. Unregistered sources
// are not limited.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	l.mu.Lock()
	limiter, ok := l.limiters[source]
	l.mu.Unlock()
	if !ok {
		return nil
	}

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(source, waited)
	}
	return nil
}
