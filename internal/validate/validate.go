// Package validate runs per-field-type checks over the accumulated Finding
// set. The policy is soft-fail throughout: validation adjusts confidence via
// the scorer, never deletes data. A check that does not apply to a finding's
// type yields inconclusive with no penalty.
package validate

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/intelforge/internal/intel"
	"github.com/lvonguyen/intelforge/internal/patterns"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Resolver is the DNS surface the validator needs; *net.Resolver satisfies
// it, tests inject fakes.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Dialer opens TLS connections for certificate-presence checks.
type Dialer interface {
	DialTLS(ctx context.Context, addr string) error
}

// Config tunes the validator.
type Config struct {
	LookupTimeout  time.Duration `yaml:"lookup_timeout"`
	CheckURLReach  bool          `yaml:"check_url_reachability"`
	CheckTLS       bool          `yaml:"check_tls"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		LookupTimeout:  5 * time.Second,
		CheckURLReach:  false,
		CheckTLS:       true,
		MaxConcurrency: 8,
	}
}

// Validator annotates findings with a validation status. Apply is the
// single-writer pass of the pipeline: lookups for independent findings may
// run concurrently, but status writes happen from the calling goroutine only,
// which is what keeps downstream correlation deterministic.
type Validator struct {
	cfg      Config
	resolver Resolver
	dialer   Dialer
	client   *http.Client
	logger   *zap.Logger
}

// Option customizes a Validator; used by tests to inject fakes.
type Option func(*Validator)

// WithResolver replaces the DNS resolver.
func WithResolver(r Resolver) Option { return func(v *Validator) { v.resolver = r } }

// WithDialer replaces the TLS dialer.
func WithDialer(d Dialer) Option { return func(v *Validator) { v.dialer = d } }

// New creates a validator.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	v := &Validator{
		cfg:      cfg,
		resolver: net.DefaultResolver,
		dialer:   tlsDialer{timeout: cfg.LookupTimeout},
		client:   &http.Client{Timeout: cfg.LookupTimeout},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Apply validates every finding in place and returns the number marked
// invalid. Findings keep their data regardless of outcome.
func (v *Validator) Apply(ctx context.Context, findings []intel.Finding) (invalid int) {
	type result struct {
		idx    int
		status intel.ValidationStatus
	}

	sem := make(chan struct{}, v.cfg.MaxConcurrency)
	results := make(chan result, len(findings))

	for i := range findings {
		select {
		case <-ctx.Done():
			// Cancellation mid-pass: remaining findings stay unvalidated,
			// which scores as no-penalty.
			results <- result{i, intel.ValidationUnvalidated}
			continue
		case sem <- struct{}{}:
		}
		go func(i int, f intel.Finding) {
			defer func() { <-sem }()
			results <- result{i, v.check(ctx, f)}
		}(i, findings[i])
	}

	for range findings {
		r := <-results
		findings[r.idx].ValidationStatus = r.status
		if r.status == intel.ValidationInvalid {
			invalid++
		}
	}
	return invalid
}

// check dispatches on entity type. Types without a checker are inconclusive.
func (v *Validator) check(ctx context.Context, f intel.Finding) intel.ValidationStatus {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.LookupTimeout)
	defer cancel()

	switch f.EntityType {
	case intel.EntityContactEmail:
		return v.checkEmail(ctx, f.NormalizedValue)
	case intel.EntityContactPhone:
		return v.checkPhone(f.NormalizedValue)
	case intel.EntityDomain:
		return v.checkDomain(ctx, f.NormalizedValue)
	case intel.EntitySocialProfile, intel.EntityDocument:
		return v.checkURL(ctx, f.NormalizedValue)
	default:
		return intel.ValidationInconclusive
	}
}

func (v *Validator) checkEmail(ctx context.Context, email string) intel.ValidationStatus {
	if !emailPattern.MatchString(email) {
		return intel.ValidationInvalid
	}
	at := strings.LastIndex(email, "@")
	domain := email[at+1:]

	mx, err := v.resolver.LookupMX(ctx, domain)
	if err != nil {
		if dnsNotFound(err) {
			return intel.ValidationInvalid
		}
		// Transient resolver trouble is not evidence against the address.
		return intel.ValidationInconclusive
	}
	if len(mx) == 0 {
		return intel.ValidationInvalid
	}
	return intel.ValidationValid
}

func (v *Validator) checkPhone(phone string) intel.ValidationStatus {
	digits := patterns.StripPhone(phone)
	if len(digits) < 7 || len(digits) > 15 {
		return intel.ValidationInvalid
	}
	if _, _, ok := patterns.MatchPhone(digits); ok {
		return intel.ValidationValid
	}
	// E.164-plausible but from a numbering plan we don't model.
	return intel.ValidationInconclusive
}

func (v *Validator) checkDomain(ctx context.Context, domain string) intel.ValidationStatus {
	if domain == "" || strings.ContainsAny(domain, " /") || !strings.Contains(domain, ".") {
		return intel.ValidationInvalid
	}

	addrs, err := v.resolver.LookupHost(ctx, domain)
	if err != nil {
		if dnsNotFound(err) {
			return intel.ValidationInvalid
		}
		return intel.ValidationInconclusive
	}
	if len(addrs) == 0 {
		return intel.ValidationInvalid
	}

	if v.cfg.CheckTLS {
		if err := v.dialer.DialTLS(ctx, domain+":443"); err != nil {
			// Resolvable but no certificate: weaker, not disproven.
			return intel.ValidationInconclusive
		}
	}
	return intel.ValidationValid
}

func (v *Validator) checkURL(ctx context.Context, raw string) intel.ValidationStatus {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return intel.ValidationInvalid
	}
	if !v.cfg.CheckURLReach {
		return intel.ValidationValid
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, raw, nil)
	if err != nil {
		return intel.ValidationInvalid
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return intel.ValidationInconclusive
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusMethodNotAllowed {
		return intel.ValidationInvalid
	}
	return intel.ValidationValid
}

func dnsNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

type tlsDialer struct {
	timeout time.Duration
}

func (d tlsDialer) DialTLS(ctx context.Context, addr string) error {
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: d.timeout}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
