// Package engine orchestrates investigations: planning collector tasks,
// running them under concurrency and rate limits, then driving the
// normalize/validate/correlate/score pipeline to a terminal state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lvonguyen/intelforge/internal/correlate"
	"github.com/lvonguyen/intelforge/internal/events"
	"github.com/lvonguyen/intelforge/internal/intel"
	"github.com/lvonguyen/intelforge/internal/normalize"
	"github.com/lvonguyen/intelforge/internal/observability"
	"github.com/lvonguyen/intelforge/internal/ratelimit"
	"github.com/lvonguyen/intelforge/internal/score"
	"github.com/lvonguyen/intelforge/internal/source"
	"github.com/lvonguyen/intelforge/internal/store"
	"github.com/lvonguyen/intelforge/internal/validate"
)

// Common errors.
var (
	ErrEmptyTarget        = errors.New("engine: target is required")
	ErrUnknownTargetClass = errors.New("engine: unknown target class")
	ErrNotRunning         = errors.New("engine: investigation is not running")
	ErrNoSources          = errors.New("engine: no sources apply to target")
)

// DefaultInvestigationConfig returns the per-investigation defaults applied
// when a submission leaves a knob unset.
func DefaultInvestigationConfig() intel.InvestigationConfig {
	return intel.InvestigationConfig{
		MaxGlobalConcurrency:    8,
		MaxPerSourceConcurrency: 2,
		MaxRetries:              2,
		RetryBaseDelay:          500 * time.Millisecond,
		RetryMaxDelay:           30 * time.Second,
		PerTaskTimeout:          60 * time.Second,
		InvestigationTimeout:    15 * time.Minute,
		SearchDepth:             "standard",
	}
}

// Engine runs investigations. One Engine serves the whole process; each
// investigation gets its own goroutine and context.
type Engine struct {
	registry   *source.Registry
	limiter    *ratelimit.Limiter
	proxies    *ratelimit.ProxyPool
	normalizer *normalize.Normalizer
	validator  *validate.Validator
	correlator *correlate.Correlator
	scorer     *score.Scorer
	store      store.Store
	bus        *events.Bus
	metrics    *observability.Metrics
	logger     *zap.Logger
	defaults   intel.InvestigationConfig

	mu     sync.Mutex
	active map[string]*run
	wg     sync.WaitGroup
}

// run tracks one in-flight investigation.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Options carries the engine's collaborators. Registry, Store and Validator
// are required; the rest fall back to defaults when nil.
type Options struct {
	Registry  *source.Registry
	Store     store.Store
	Validator *validate.Validator

	Limiter    *ratelimit.Limiter
	Proxies    *ratelimit.ProxyPool
	Correlator *correlate.Correlator
	Scorer     *score.Scorer
	Bus        *events.Bus
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Defaults   intel.InvestigationConfig
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.New("engine: registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Validator == nil {
		return nil, errors.New("engine: validator is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewLimiter(ratelimit.BucketConfig{RatePerMinute: 60, Burst: 10})
	}
	if opts.Correlator == nil {
		opts.Correlator = correlate.New(correlate.DefaultConfig(), opts.Logger)
	}
	if opts.Scorer == nil {
		opts.Scorer = score.New(score.DefaultConfig())
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	defaults := opts.Defaults
	if defaults.MaxGlobalConcurrency == 0 {
		defaults = DefaultInvestigationConfig()
	}

	return &Engine{
		registry:   opts.Registry,
		limiter:    opts.Limiter,
		proxies:    opts.Proxies,
		normalizer: normalize.New(),
		validator:  opts.Validator,
		correlator: opts.Correlator,
		scorer:     opts.Scorer,
		store:      opts.Store,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		logger:     opts.Logger.Named("engine"),
		defaults:   defaults,
		active:     make(map[string]*run),
	}, nil
}

// Bus exposes the progress event bus for subscribers.
func (e *Engine) Bus() *events.Bus { return e.bus }

// SubmitRequest is one investigation submission. TargetClass is supplied by
// the caller; the engine never infers it. Config fields left zero inherit
// the engine defaults; a negative MaxRetries or timeout disables that knob.
type SubmitRequest struct {
	Target      string                     `json:"target"`
	TargetClass intel.TargetClass          `json:"target_class"`
	Profile     map[string]any             `json:"profile,omitempty"`
	Config      *intel.InvestigationConfig `json:"config,omitempty"`
}

// Submit validates the request, persists the investigation in its created
// state and launches the run. It returns immediately; progress is observed
// through the event bus and the store.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (intel.Investigation, error) {
	if req.Target == "" {
		return intel.Investigation{}, ErrEmptyTarget
	}
	if !validTargetClass(req.TargetClass) {
		return intel.Investigation{}, fmt.Errorf("%w: %q", ErrUnknownTargetClass, req.TargetClass)
	}

	cfg := e.defaults
	if req.Config != nil {
		cfg = mergeConfig(e.defaults, *req.Config)
	}

	inv := intel.Investigation{
		ID:          uuid.NewString(),
		Target:      req.Target,
		TargetClass: req.TargetClass,
		Profile:     req.Profile,
		Config:      cfg,
		State:       intel.StateCreated,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.PutInvestigation(ctx, inv); err != nil {
		return intel.Investigation{}, fmt.Errorf("persist investigation: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.active[inv.ID] = r
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.InvestigationsActive.Inc()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(r.done)
		defer cancel()
		e.execute(runCtx, inv)

		e.mu.Lock()
		delete(e.active, inv.ID)
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.InvestigationsActive.Dec()
		}
	}()

	return inv, nil
}

// Cancel stops a running investigation. In-flight tasks are interrupted and
// results collected so far are kept.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	r, ok := e.active[id]
	e.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	r.cancel()
	return nil
}

// Wait blocks until the investigation reaches a terminal state. Used by the
// CLI's single-shot mode and by tests.
func (e *Engine) Wait(ctx context.Context, id string) error {
	e.mu.Lock()
	r, ok := e.active[id]
	e.mu.Unlock()
	if !ok {
		return nil // already terminal
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return nil
	}
}

// Shutdown cancels every active investigation and waits for their goroutines
// to drain.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, r := range e.active {
		r.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Get returns an investigation by id.
func (e *Engine) Get(ctx context.Context, id string) (intel.Investigation, error) {
	return e.store.GetInvestigation(ctx, id)
}

// List returns all investigations, newest first.
func (e *Engine) List(ctx context.Context) ([]intel.Investigation, error) {
	return e.store.ListInvestigations(ctx)
}

// Results assembles the full result set of an investigation.
func (e *Engine) Results(ctx context.Context, id string, filter store.FindingFilter) (intel.Results, error) {
	if _, err := e.store.GetInvestigation(ctx, id); err != nil {
		return intel.Results{}, err
	}
	findings, err := e.store.ListFindings(ctx, id, filter)
	if err != nil {
		return intel.Results{}, err
	}
	entities, err := e.store.ListEntities(ctx, id)
	if err != nil {
		return intel.Results{}, err
	}
	relationships, err := e.store.ListRelationships(ctx, id)
	if err != nil {
		return intel.Results{}, err
	}
	return intel.Results{
		InvestigationID: id,
		Findings:        findings,
		Entities:        entities,
		Relationships:   relationships,
	}, nil
}

func validTargetClass(c intel.TargetClass) bool {
	switch c {
	case intel.TargetPeopleGroup, intel.TargetBusinessCategory, intel.TargetServiceProviders,
		intel.TargetProfessionalCategory, intel.TargetDomainEntity, intel.TargetPersonIndividual,
		intel.TargetTopicResearch, intel.TargetMixed:
		return true
	}
	return false
}

// mergeConfig overlays non-zero override fields on the defaults. Zero means
// "unset, keep the default"; a negative MaxRetries, PerTaskTimeout or
// InvestigationTimeout disables that knob outright.
func mergeConfig(base, override intel.InvestigationConfig) intel.InvestigationConfig {
	out := base
	if override.MaxGlobalConcurrency > 0 {
		out.MaxGlobalConcurrency = override.MaxGlobalConcurrency
	}
	if override.MaxPerSourceConcurrency > 0 {
		out.MaxPerSourceConcurrency = override.MaxPerSourceConcurrency
	}
	switch {
	case override.MaxRetries > 0:
		out.MaxRetries = override.MaxRetries
	case override.MaxRetries < 0:
		out.MaxRetries = 0
	}
	if override.RetryBaseDelay > 0 {
		out.RetryBaseDelay = override.RetryBaseDelay
	}
	if override.RetryMaxDelay > 0 {
		out.RetryMaxDelay = override.RetryMaxDelay
	}
	switch {
	case override.PerTaskTimeout > 0:
		out.PerTaskTimeout = override.PerTaskTimeout
	case override.PerTaskTimeout < 0:
		out.PerTaskTimeout = 0
	}
	switch {
	case override.InvestigationTimeout > 0:
		out.InvestigationTimeout = override.InvestigationTimeout
	case override.InvestigationTimeout < 0:
		out.InvestigationTimeout = 0
	}
	if len(override.EnabledSources) > 0 {
		out.EnabledSources = override.EnabledSources
	}
	if override.SearchDepth != "" {
		out.SearchDepth = override.SearchDepth
	}
	return out
}
