package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lvonguyen/intelforge/internal/source"
)

// ============================================================================
// Token buckets
// ============================================================================

// TestLimiter_BurstThenBlock verifies that a source gets its full burst
// immediately and the next token is withheld.
func TestLimiter_BurstThenBlock(t *testing.T) {
	l := NewLimiter(BucketConfig{RatePerMinute: 60, Burst: 1})
	l.Configure("whois", BucketConfig{RatePerMinute: 6, Burst: 2})

	if !l.Allow("whois") || !l.Allow("whois") {
		t.Fatal("burst tokens not available")
	}
	if l.Allow("whois") {
		t.Error("third token granted immediately at 6/min")
	}
}

// TestLimiter_AcquireTimeout verifies that an empty bucket surfaces the rate
// limit sentinel when the wait budget runs out.
func TestLimiter_AcquireTimeout(t *testing.T) {
	l := NewLimiter(BucketConfig{RatePerMinute: 1, Burst: 1})
	if err := l.Acquire(context.Background(), "slow", 0); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	err := l.Acquire(context.Background(), "slow", 20*time.Millisecond)
	if !errors.Is(err, source.ErrRateLimited) {
		t.Errorf("Acquire error = %v, want source.ErrRateLimited", err)
	}
}

// TestLimiter_AcquireCancellation verifies a cancelled caller gets ctx.Err,
// not the rate limit sentinel.
func TestLimiter_AcquireCancellation(t *testing.T) {
	l := NewLimiter(BucketConfig{RatePerMinute: 2, Burst: 1})
	if err := l.Acquire(context.Background(), "slow", 0); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := l.Acquire(ctx, "slow", time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire error = %v, want context.Canceled", err)
	}
	if errors.Is(err, source.ErrRateLimited) {
		t.Error("cancellation misreported as rate limiting")
	}
}

// TestLimiter_DefaultBucket verifies an unconfigured source falls back to the
// limiter defaults rather than being unthrottled.
func TestLimiter_DefaultBucket(t *testing.T) {
	l := NewLimiter(BucketConfig{RatePerMinute: 6, Burst: 1})
	if !l.Allow("unconfigured") {
		t.Fatal("default burst token not available")
	}
	if l.Allow("unconfigured") {
		t.Error("second token granted immediately at default 6/min")
	}
}

// TestLimiter_IndependentBuckets verifies one source draining its bucket does
// not starve another.
func TestLimiter_IndependentBuckets(t *testing.T) {
	l := NewLimiter(BucketConfig{RatePerMinute: 6, Burst: 1})
	if !l.Allow("a") {
		t.Fatal("token for a not available")
	}
	if !l.Allow("b") {
		t.Error("draining a's bucket starved b")
	}
}

// ============================================================================
// Proxy pool
// ============================================================================

func testPool(urls ...string) *ProxyPool {
	cfg := DefaultProxyPoolConfig()
	cfg.Enabled = true
	for _, u := range urls {
		cfg.Proxies = append(cfg.Proxies, Proxy{URL: u})
	}
	return NewProxyPool(cfg, nil)
}

// TestProxyPool_Disabled verifies a disabled pool hands out direct egress.
func TestProxyPool_Disabled(t *testing.T) {
	p := NewProxyPool(DefaultProxyPoolConfig(), nil)
	u, err := p.Get()
	if u != "" || err != nil {
		t.Errorf("Get on disabled pool = %q, %v", u, err)
	}
}

// TestProxyPool_RoundRobin verifies rotation order across healthy proxies.
func TestProxyPool_RoundRobin(t *testing.T) {
	p := testPool("http://p1:8080", "http://p2:8080", "http://p3:8080")
	want := []string{"http://p1:8080", "http://p2:8080", "http://p3:8080", "http://p1:8080"}
	for i, w := range want {
		u, err := p.Get()
		if err != nil {
			t.Fatalf("Get #%d failed: %v", i, err)
		}
		if u != w {
			t.Errorf("Get #%d = %s, want %s", i, u, w)
		}
	}
}

// TestProxyPool_QuarantineAtThreshold verifies a proxy leaves rotation after
// MaxFailures consecutive failures and rotation skips over it.
func TestProxyPool_QuarantineAtThreshold(t *testing.T) {
	p := testPool("http://p1:8080", "http://p2:8080")

	p.MarkFailure("http://p1:8080")
	p.MarkFailure("http://p1:8080")
	if got := len(p.Healthy()); got != 2 {
		t.Fatalf("healthy count after 2 failures = %d, want 2", got)
	}
	p.MarkFailure("http://p1:8080") // third strike at default MaxFailures=3
	if got := p.Healthy(); len(got) != 1 || got[0] != "http://p2:8080" {
		t.Fatalf("healthy after quarantine = %v", got)
	}

	for i := 0; i < 3; i++ {
		u, err := p.Get()
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if u != "http://p2:8080" {
			t.Errorf("rotation returned quarantined proxy %s", u)
		}
	}
}

// TestProxyPool_AllQuarantined verifies an enabled pool with no healthy
// members reports ErrNoHealthyProxy.
func TestProxyPool_AllQuarantined(t *testing.T) {
	p := testPool("http://p1:8080")
	for i := 0; i < 3; i++ {
		p.MarkFailure("http://p1:8080")
	}
	if _, err := p.Get(); !errors.Is(err, ErrNoHealthyProxy) {
		t.Errorf("Get = %v, want ErrNoHealthyProxy", err)
	}
}

// TestProxyPool_ProbeReinstates verifies CheckAll brings a quarantined proxy
// back once its probe succeeds, and quarantines one whose probe fails.
func TestProxyPool_ProbeReinstates(t *testing.T) {
	p := testPool("http://p1:8080", "http://p2:8080")
	alive := map[string]bool{"http://p1:8080": true, "http://p2:8080": false}
	p.probe = func(ctx context.Context, proxyURL string) error {
		if alive[proxyURL] {
			return nil
		}
		return errors.New("connection refused")
	}

	for i := 0; i < 3; i++ {
		p.MarkFailure("http://p1:8080")
	}
	p.CheckAll(context.Background())

	got := p.Healthy()
	if len(got) != 1 || got[0] != "http://p1:8080" {
		t.Errorf("healthy after probe cycle = %v, want only p1", got)
	}

	// Failure count must reset on reinstatement: one new failure is not
	// enough to quarantine again.
	p.MarkFailure("http://p1:8080")
	if got := len(p.Healthy()); got != 1 {
		t.Errorf("healthy after single post-recovery failure = %d, want 1", got)
	}
}

// TestProxyPool_MarkSuccessResets verifies success resets the failure streak.
func TestProxyPool_MarkSuccessResets(t *testing.T) {
	p := testPool("http://p1:8080")
	p.MarkFailure("http://p1:8080")
	p.MarkFailure("http://p1:8080")
	p.MarkSuccess("http://p1:8080")
	p.MarkFailure("http://p1:8080")
	p.MarkFailure("http://p1:8080")
	if got := len(p.Healthy()); got != 1 {
		t.Errorf("healthy = %d, want 1: streak should have reset", got)
	}
}
