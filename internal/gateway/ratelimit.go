// Package gateway exposes the HTTP API: investigation submission, status,
// results, and the inbound rate limit that protects the engine from
// submission floods.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter enforces a per-client fixed window on the API. It degrades
// open: when Redis is unreachable requests are allowed and the failure is
// logged, so a cache outage never takes the API down with it.
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
	limit  int // requests per minute per client
}

// RateLimitResult is the outcome of one admission check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// NewRateLimiter creates an API rate limiter. limit is requests per minute
// per client; zero or a nil client disables limiting.
func NewRateLimiter(redisClient *redis.Client, limit int, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{redis: redisClient, logger: logger, limit: limit}
}

var windowScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// Check counts the request against the client's current minute window.
func (rl *RateLimiter) Check(ctx context.Context, clientID string) (*RateLimitResult, error) {
	key := fmt.Sprintf("intelforge:ratelimit:%s:minute", clientID)
	now := time.Now()

	count, err := windowScript.Run(ctx, rl.redis, []string{key}, 60000).Int()
	if err != nil {
		rl.logger.Warn("rate limit check failed, allowing request", zap.Error(err))
		return &RateLimitResult{Allowed: true, Limit: rl.limit}, nil
	}

	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}

	ttl, _ := rl.redis.TTL(ctx, key).Result()
	result := &RateLimitResult{
		Allowed:   count <= rl.limit,
		Remaining: remaining,
		Limit:     rl.limit,
		ResetAt:   now.Add(ttl),
	}
	if !result.Allowed {
		result.RetryAfter = ttl
	}
	return result, nil
}

// Middleware returns the chi-compatible admission middleware. A nil limiter
// or disabled limit passes everything through.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl == nil || rl.redis == nil || rl.limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			result, err := rl.Check(r.Context(), clientIP(r))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"rate_limit_exceeded","retry_after":%d}`,
					int(result.RetryAfter.Seconds()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
