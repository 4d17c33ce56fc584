package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoHealthyProxy is returned when the pool is enabled but every proxy is
// quarantined.
var ErrNoHealthyProxy = errors.New("no healthy proxy available")

// Proxy is one egress proxy entry.
type Proxy struct {
	URL      string `yaml:"url"`
	Location string `yaml:"location,omitempty"`

	healthy  bool
	failures int
	lastUsed time.Time
}

// ProxyPoolConfig configures the shared proxy pool.
type ProxyPoolConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Proxies             []Proxy       `yaml:"proxies"`
	ProbeURL            string        `yaml:"probe_url"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	MaxFailures         int           `yaml:"max_failures"`
}

// DefaultProxyPoolConfig returns sensible defaults (pool disabled).
func DefaultProxyPoolConfig() ProxyPoolConfig {
	return ProxyPoolConfig{
		Enabled:             false,
		ProbeURL:            "https://www.google.com/generate_204",
		ProbeTimeout:        10 * time.Second,
		HealthCheckInterval: 5 * time.Minute,
		MaxFailures:         3,
	}
}

// ProxyPool rotates collector egress across healthy proxies. A background
// loop probes quarantined proxies and reinstates the ones that recover; a
// configured failure threshold quarantines flapping ones. All list mutation
// happens under one pool lock.
type ProxyPool struct {
	mu      sync.Mutex
	cfg     ProxyPoolConfig
	proxies []*Proxy
	next    int
	logger  *zap.Logger
	probe   func(ctx context.Context, proxyURL string) error
	stopCh  chan struct{}
	stopped sync.Once
}

// NewProxyPool builds a pool from configuration. All proxies start healthy;
// the first probe cycle corrects that if needed.
func NewProxyPool(cfg ProxyPoolConfig, logger *zap.Logger) *ProxyPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}

	p := &ProxyPool{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	for i := range cfg.Proxies {
		entry := cfg.Proxies[i]
		entry.healthy = true
		p.proxies = append(p.proxies, &entry)
	}
	p.probe = p.httpProbe
	return p
}

// Start launches the periodic health-check loop. No-op when the pool is
// disabled or has no interval configured.
func (p *ProxyPool) Start() {
	if !p.cfg.Enabled || p.cfg.HealthCheckInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(p.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.CheckAll(context.Background())
			case <-p.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the health-check loop.
func (p *ProxyPool) Stop() {
	p.stopped.Do(func() { close(p.stopCh) })
}

// Enabled reports whether proxy rotation is on.
func (p *ProxyPool) Enabled() bool { return p.cfg.Enabled }

// Get returns the next healthy proxy URL, round-robin. Returns "" with a nil
// error when the pool is disabled: callers then egress directly.
func (p *ProxyPool) Get() (string, error) {
	if !p.cfg.Enabled {
		return "", nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.proxies)
	for i := 0; i < n; i++ {
		candidate := p.proxies[(p.next+i)%n]
		if candidate.healthy {
			p.next = (p.next + i + 1) % n
			candidate.lastUsed = time.Now()
			return candidate.URL, nil
		}
	}
	return "", ErrNoHealthyProxy
}

// MarkFailure records a failed request through the proxy; reaching the
// failure threshold quarantines it until a probe succeeds.
func (p *ProxyPool) MarkFailure(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range p.proxies {
		if entry.URL != proxyURL {
			continue
		}
		entry.failures++
		if entry.healthy && entry.failures >= p.cfg.MaxFailures {
			entry.healthy = false
			p.logger.Warn("Proxy quarantined",
				zap.String("proxy", proxyURL),
				zap.Int("failures", entry.failures),
			)
		}
		return
	}
}

// MarkSuccess resets a proxy's failure count.
func (p *ProxyPool) MarkSuccess(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range p.proxies {
		if entry.URL == proxyURL {
			entry.failures = 0
			entry.healthy = true
			return
		}
	}
}

// Healthy returns the URLs of all currently healthy proxies.
func (p *ProxyPool) Healthy() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for _, entry := range p.proxies {
		if entry.healthy {
			out = append(out, entry.URL)
		}
	}
	return out
}

// CheckAll probes every proxy once, quarantining the dead and reinstating
// the recovered.
func (p *ProxyPool) CheckAll(ctx context.Context) {
	p.mu.Lock()
	urls := make([]string, len(p.proxies))
	for i, entry := range p.proxies {
		urls[i] = entry.URL
	}
	p.mu.Unlock()

	for _, u := range urls {
		probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
		err := p.probe(probeCtx, u)
		cancel()

		if err != nil {
			p.markUnhealthy(u)
		} else {
			p.MarkSuccess(u)
		}
	}
}

func (p *ProxyPool) markUnhealthy(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.proxies {
		if entry.URL == proxyURL && entry.healthy {
			entry.healthy = false
			p.logger.Warn("Proxy failed liveness probe", zap.String("proxy", proxyURL))
			return
		}
	}
}

func (p *ProxyPool) httpProbe(ctx context.Context, proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return err
	}
	client := &http.Client{
		Timeout:   p.cfg.ProbeTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.ProbeURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return errors.New("probe target returned server error")
	}
	return nil
}
