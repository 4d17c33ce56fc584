// Package ratelimit provides per-source token-bucket throttling for egress
// collection and a health-checked proxy pool. Both are process-wide shared
// state; locking is localized per source and per pool, never global.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lvonguyen/intelforge/internal/source"
)

// BucketConfig parameterizes one source's token bucket.
type BucketConfig struct {
	RatePerMinute int `yaml:"rate_per_minute"`
	Burst         int `yaml:"burst"`
}

// Limiter owns one token bucket per source. Acquire blocks the calling task
// until a token is available or the timeout elapses.
type Limiter struct {
	mu       sync.RWMutex
	buckets  map[string]*rate.Limiter
	defaults BucketConfig
}

// NewLimiter creates a limiter. defaults apply to sources never configured
// explicitly.
func NewLimiter(defaults BucketConfig) *Limiter {
	if defaults.RatePerMinute <= 0 {
		defaults.RatePerMinute = 30
	}
	if defaults.Burst <= 0 {
		defaults.Burst = 1
	}
	return &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		defaults: defaults,
	}
}

// Configure sets the bucket parameters for a source. Replaces any existing
// bucket, so call it at registration time, before collection starts.
func (l *Limiter) Configure(sourceID string, cfg BucketConfig) {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = l.defaults.RatePerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = l.defaults.Burst
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[sourceID] = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.Burst)
}

// Acquire blocks until a token for the source is available, the timeout
// elapses, or ctx is cancelled. A timeout surfaces as source.ErrRateLimited
// so the orchestrator's retry policy treats it uniformly; cancellation is
// returned as ctx.Err().
func (l *Limiter) Acquire(ctx context.Context, sourceID string, timeout time.Duration) error {
	bucket := l.bucket(sourceID)

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := bucket.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: no token for %s within %s", source.ErrRateLimited, sourceID, timeout)
	}
	return nil
}

// Allow reports whether a token is immediately available, consuming one if so.
func (l *Limiter) Allow(sourceID string) bool {
	return l.bucket(sourceID).Allow()
}

func (l *Limiter) bucket(sourceID string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[sourceID]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[sourceID]; ok {
		return b
	}
	b = rate.NewLimiter(rate.Limit(float64(l.defaults.RatePerMinute)/60.0), l.defaults.Burst)
	l.buckets[sourceID] = b
	return b
}
