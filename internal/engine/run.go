package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lvonguyen/intelforge/internal/events"
	"github.com/lvonguyen/intelforge/internal/intel"
	"github.com/lvonguyen/intelforge/internal/ratelimit"
	"github.com/lvonguyen/intelforge/internal/source"
	"github.com/lvonguyen/intelforge/internal/store"
)

// execute drives one investigation from planning to a terminal state. It
// owns the Investigation value; nothing else mutates it while the run is
// active.
func (e *Engine) execute(ctx context.Context, inv intel.Investigation) {
	start := time.Now()
	logger := e.logger.With(
		zap.String("investigation_id", inv.ID),
		zap.String("target", inv.Target),
		zap.String("target_class", string(inv.TargetClass)),
	)

	if inv.Config.InvestigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Config.InvestigationTimeout)
		defer cancel()
	}

	e.setState(&inv, intel.StatePlanning)

	collectors := e.plan(&inv)
	if len(collectors) == 0 {
		logger.Warn("no sources apply to target")
		e.finish(&inv, intel.StateFailed, start)
		return
	}
	logger.Info("investigation planned", zap.Int("tasks", len(inv.Tasks)))

	e.setState(&inv, intel.StateCollecting)
	findings := e.collect(ctx, &inv, collectors)

	cancelled := errors.Is(ctx.Err(), context.Canceled)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	// Post-collection stages run even after cancellation or timeout so that
	// whatever was collected still comes out validated, correlated and
	// persisted. They get their own deadline.
	post := ctx
	if ctx.Err() != nil {
		var cancelPost context.CancelFunc
		post, cancelPost = context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancelPost()
	}

	if len(findings) == 0 {
		state := intel.StateFailed
		if cancelled {
			state = intel.StateCancelled
		}
		logger.Warn("investigation produced no findings")
		e.finish(&inv, state, start)
		return
	}

	e.setState(&inv, intel.StateValidating)
	invalid := e.validator.Apply(post, findings)
	logger.Info("validation complete",
		zap.Int("findings", len(findings)),
		zap.Int("invalid", invalid))

	e.setState(&inv, intel.StateCorrelating)
	e.scorer.ScoreFindings(findings)
	entities, relationships := e.correlator.Correlate(inv.ID, findings)
	e.scorer.ScoreEntities(entities, findings)

	if e.metrics != nil {
		for i := range entities {
			e.metrics.EntitiesCorrelated.WithLabelValues(string(entities[i].EntityType)).Inc()
		}
	}
	e.bus.Publish(events.Event{
		Type:            events.CorrelationCompleted,
		InvestigationID: inv.ID,
		Detail:          fmt.Sprintf("%d entities, %d relationships", len(entities), len(relationships)),
	})
	logger.Info("correlation complete",
		zap.Int("entities", len(entities)),
		zap.Int("relationships", len(relationships)))

	results := intel.Results{
		InvestigationID: inv.ID,
		Findings:        findings,
		Entities:        entities,
		Relationships:   relationships,
	}
	if err := store.SaveResults(post, e.store, results); err != nil {
		logger.Error("persist results", zap.Error(err))
		e.finish(&inv, intel.StateFailed, start)
		return
	}

	switch {
	case cancelled:
		e.finish(&inv, intel.StateCancelled, start)
	case timedOut || anyTaskFailed(inv.Tasks):
		e.finish(&inv, intel.StatePartialSuccess, start)
	default:
		e.finish(&inv, intel.StateCompleted, start)
	}
}

// plan selects the collectors for the target class, honors the enabled-source
// allowlist, configures their rate buckets and materializes one task each.
func (e *Engine) plan(inv *intel.Investigation) []source.Collector {
	var selected []source.Collector
	for _, c := range e.registry.ForTarget(inv.TargetClass) {
		if !inv.Config.SourceEnabled(c.Name()) {
			continue
		}
		caps := c.Capabilities()
		e.limiter.Configure(c.Name(), ratelimit.BucketConfig{
			RatePerMinute: caps.RatePerMinute,
			Burst:         caps.Burst,
		})
		selected = append(selected, c)
		inv.Tasks = append(inv.Tasks, intel.CollectorTask{
			ID:              uuid.NewString(),
			InvestigationID: inv.ID,
			SourceID:        c.Name(),
			Status:          intel.TaskPending,
		})
	}
	return selected
}

// collect fans the tasks out under the global concurrency cap and gathers
// findings. Task failures never abort sibling tasks; the error group is used
// only for its wait semantics.
func (e *Engine) collect(ctx context.Context, inv *intel.Investigation, collectors []source.Collector) []intel.Finding {
	sem := semaphore.NewWeighted(int64(inv.Config.MaxGlobalConcurrency))
	perSource := make(map[string]chan struct{})
	for _, c := range collectors {
		if _, ok := perSource[c.Name()]; !ok {
			perSource[c.Name()] = make(chan struct{}, inv.Config.MaxPerSourceConcurrency)
		}
	}

	var (
		mu       sync.Mutex
		findings []intel.Finding
	)

	g := new(errgroup.Group)
	for i := range inv.Tasks {
		task := &inv.Tasks[i]
		collector := collectors[i]
		slot := perSource[collector.Name()]

		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				task.Status = intel.TaskCancelled
				return nil
			}
			defer sem.Release(1)

			select {
			case slot <- struct{}{}:
				defer func() { <-slot }()
			case <-ctx.Done():
				task.Status = intel.TaskCancelled
				return nil
			}

			fs := e.runTask(ctx, inv, task, collector)
			if len(fs) > 0 {
				mu.Lock()
				findings = append(findings, fs...)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	// Ids are assigned once collection is sealed; from here on the slice is
	// single-writer.
	for i := range findings {
		findings[i].ID = intel.FindingID(i)
	}
	return findings
}

// runTask executes one collector task with retries. Partial findings from
// the final attempt are kept even when the task ultimately fails.
func (e *Engine) runTask(ctx context.Context, inv *intel.Investigation, task *intel.CollectorTask, collector source.Collector) []intel.Finding {
	logger := e.logger.With(
		zap.String("investigation_id", inv.ID),
		zap.String("source", task.SourceID),
		zap.String("task_id", task.ID),
	)

	task.Status = intel.TaskRunning
	e.bus.Publish(events.Event{
		Type:            events.TaskStarted,
		InvestigationID: inv.ID,
		SourceID:        task.SourceID,
		TaskID:          task.ID,
	})

	caps := collector.Capabilities()
	maxAttempts := inv.Config.MaxRetries + 1

	var (
		collected []intel.Finding
		lastErr   error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff(inv.Config, attempt)
			logger.Info("retrying task",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			e.bus.Publish(events.Event{
				Type:            events.TaskRetried,
				InvestigationID: inv.ID,
				SourceID:        task.SourceID,
				TaskID:          task.ID,
				Attempt:         attempt + 1,
				Detail:          lastErr.Error(),
			})
			if e.metrics != nil {
				e.metrics.TaskRetries.WithLabelValues(task.SourceID).Inc()
			}
			select {
			case <-ctx.Done():
				task.Status = intel.TaskCancelled
				return collected
			case <-time.After(delay):
			}
		}

		task.Attempts++
		fs, err := e.attempt(ctx, inv, task, collector, caps)
		collected = fs
		if err == nil {
			task.Status = intel.TaskSucceeded
			task.Findings = len(fs)
			e.bus.Publish(events.Event{
				Type:            events.TaskSucceeded,
				InvestigationID: inv.ID,
				SourceID:        task.SourceID,
				TaskID:          task.ID,
			})
			if e.metrics != nil {
				e.metrics.TasksTotal.WithLabelValues(task.SourceID, string(intel.TaskSucceeded)).Inc()
			}
			logger.Info("task succeeded", zap.Int("findings", len(fs)))
			return collected
		}

		lastErr = err
		if !source.Retryable(err) {
			break
		}
	}

	switch {
	case errors.Is(lastErr, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		task.Status = intel.TaskCancelled
	case errors.Is(lastErr, source.ErrRateLimited):
		task.Status = intel.TaskRateLimited
	default:
		task.Status = intel.TaskFailed
	}
	task.Error = lastErr.Error()
	task.Findings = len(collected)

	e.bus.Publish(events.Event{
		Type:            events.TaskFailed,
		InvestigationID: inv.ID,
		SourceID:        task.SourceID,
		TaskID:          task.ID,
		Detail:          lastErr.Error(),
	})
	if e.metrics != nil {
		e.metrics.TasksTotal.WithLabelValues(task.SourceID, string(task.Status)).Inc()
	}
	logger.Warn("task failed",
		zap.Int("attempts", task.Attempts),
		zap.Int("partial_findings", len(collected)),
		zap.Error(lastErr))
	return collected
}

// attempt runs one collection attempt: rate-limit admission, proxy
// assignment, stream drain, and immediate normalization of each record.
// Malformed records are skipped and counted, never fatal.
func (e *Engine) attempt(ctx context.Context, inv *intel.Investigation, task *intel.CollectorTask, collector source.Collector, caps source.Capabilities) ([]intel.Finding, error) {
	waitStart := time.Now()
	if err := e.limiter.Acquire(ctx, task.SourceID, inv.Config.PerTaskTimeout); err != nil {
		return nil, err
	}
	if e.metrics != nil && time.Since(waitStart) > 10*time.Millisecond {
		e.metrics.RateLimitWaits.WithLabelValues(task.SourceID).Inc()
	}

	var proxyURL string
	if caps.RequiresProxy && e.proxies != nil && e.proxies.Enabled() {
		p, err := e.proxies.Get()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", source.ErrSourceUnavailable, err)
		}
		proxyURL = p
	}

	tctx := ctx
	if inv.Config.PerTaskTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, inv.Config.PerTaskTimeout)
		defer cancel()
	}

	start := time.Now()
	stream, err := collector.Collect(tctx, source.CollectRequest{
		InvestigationID: inv.ID,
		Target:          inv.Target,
		TargetClass:     inv.TargetClass,
		Keywords:        profileKeywords(inv.Profile),
		SearchDepth:     inv.Config.SearchDepth,
		ProxyURL:        proxyURL,
	})
	if err != nil {
		e.noteProxy(proxyURL, err)
		return nil, attemptErr(ctx, err)
	}

	mapping := collector.Mapping()
	var findings []intel.Finding
	for {
		rec, err := stream.Next(tctx)
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *source.ParseError
		if errors.As(err, &perr) {
			if e.metrics != nil {
				e.metrics.ParseErrors.WithLabelValues(task.SourceID).Inc()
			}
			e.logger.Debug("skipping malformed record",
				zap.String("source", task.SourceID),
				zap.String("detail", perr.Detail))
			continue
		}
		if err != nil {
			e.noteProxy(proxyURL, err)
			return findings, attemptErr(ctx, err)
		}

		if e.metrics != nil {
			e.metrics.RecordsCollected.WithLabelValues(task.SourceID).Inc()
		}
		extracted := e.normalizer.Normalize(rec, mapping, caps.Tier, inv.ID)
		if e.metrics != nil {
			for i := range extracted {
				e.metrics.FindingsExtracted.WithLabelValues(task.SourceID, string(extracted[i].EntityType)).Inc()
			}
		}
		findings = append(findings, extracted...)
	}

	if e.metrics != nil {
		e.metrics.CollectDuration.WithLabelValues(task.SourceID).Observe(time.Since(start).Seconds())
	}
	e.noteProxy(proxyURL, nil)
	return findings, nil
}

// attemptErr maps a per-task deadline expiry onto the retryable timeout
// sentinel. A deadline that belongs to the investigation context itself
// passes through unchanged so the run winds down instead of retrying.
func attemptErr(invCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && invCtx.Err() == nil {
		return fmt.Errorf("%w: %v", source.ErrTimeout, err)
	}
	return err
}

// noteProxy reports the attempt outcome to the proxy pool.
func (e *Engine) noteProxy(proxyURL string, err error) {
	if proxyURL == "" || e.proxies == nil {
		return
	}
	if err != nil {
		e.proxies.MarkFailure(proxyURL)
		if e.metrics != nil {
			e.metrics.ProxyFailures.WithLabelValues(proxyURL).Inc()
		}
	} else {
		e.proxies.MarkSuccess(proxyURL)
	}
	if e.metrics != nil {
		e.metrics.ProxiesHealthy.Set(float64(len(e.proxies.Healthy())))
	}
}

// setState transitions the investigation, persists it and announces the
// change. Persistence uses a detached context so a cancelled run still
// records its terminal state.
func (e *Engine) setState(inv *intel.Investigation, state intel.InvestigationState) {
	inv.State = state
	pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.PutInvestigation(pctx, *inv); err != nil {
		e.logger.Error("persist investigation state",
			zap.String("investigation_id", inv.ID),
			zap.String("state", string(state)),
			zap.Error(err))
	}
	e.bus.Publish(events.Event{
		Type:            events.InvestigationStateChanged,
		InvestigationID: inv.ID,
		State:           state,
	})
}

// finish stamps completion and records terminal metrics.
func (e *Engine) finish(inv *intel.Investigation, state intel.InvestigationState, start time.Time) {
	now := time.Now().UTC()
	inv.CompletedAt = &now
	e.setState(inv, state)
	if e.metrics != nil {
		e.metrics.InvestigationsTotal.WithLabelValues(string(state)).Inc()
		e.metrics.InvestigationDuration.Observe(time.Since(start).Seconds())
	}
	e.logger.Info("investigation finished",
		zap.String("investigation_id", inv.ID),
		zap.String("state", string(state)),
		zap.Duration("duration", time.Since(start)))
}

// anyTaskFailed reports whether at least one task ended without success.
// Successful siblings still make the investigation partial, not failed.
func anyTaskFailed(tasks []intel.CollectorTask) bool {
	for _, t := range tasks {
		switch t.Status {
		case intel.TaskFailed, intel.TaskRateLimited, intel.TaskCancelled:
			return true
		}
	}
	return false
}

// profileKeywords pulls the optional keyword list out of the opaque
// submission profile. Both string and list forms are accepted.
func profileKeywords(profile map[string]any) []string {
	raw, ok := profile["keywords"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// backoff computes the delay before the given retry attempt, exponential
// from the base and capped at the max.
func backoff(cfg intel.InvestigationConfig, attempt int) time.Duration {
	delay := cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.RetryMaxDelay {
			return cfg.RetryMaxDelay
		}
	}
	if cfg.RetryMaxDelay > 0 && delay > cfg.RetryMaxDelay {
		delay = cfg.RetryMaxDelay
	}
	return delay
}
