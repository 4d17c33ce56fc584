// Package source defines the collector contract every intelligence source
// adapter implements, the registry that selects collectors for a target
// classification, and the YAML catalog that carries per-source capability
// metadata as plain data.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// Failure taxonomy for a collector task. Everything here is retryable at the
// task level except ParseError, which poisons a single record only.
var (
	ErrRateLimited       = errors.New("source rate limited")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrTimeout           = errors.New("source timeout")
)

// ParseError reports that one record in the stream could not be decoded. The
// caller skips the record and keeps draining; the sequence is not aborted.
type ParseError struct {
	SourceID string
	Detail   string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error from %s: %s", e.SourceID, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Retryable reports whether a collect failure should be retried with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrSourceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// Capabilities declares what a collector can do. Plain data, filled from the
// catalog at registration time — never runtime reflection.
type Capabilities struct {
	// EntityTypes this source can produce findings for.
	EntityTypes []intel.EntityType
	// Tier is the reliability class, 1 (official) through 4 (unverified).
	Tier int
	// Priority orders collectors within a tier, higher first.
	Priority int
	// RatePerMinute and Burst parameterize the source's token bucket.
	RatePerMinute int
	Burst         int
	// RequiresProxy marks sources that must egress through the proxy pool.
	RequiresProxy bool
	// TargetClasses this source applies to. Empty means all.
	TargetClasses []intel.TargetClass
}

// Supports reports whether the source produces the given entity type.
func (c Capabilities) Supports(t intel.EntityType) bool {
	for _, et := range c.EntityTypes {
		if et == t {
			return true
		}
	}
	return false
}

// AppliesTo reports whether the source is useful for a target classification.
func (c Capabilities) AppliesTo(class intel.TargetClass) bool {
	if len(c.TargetClasses) == 0 {
		return true
	}
	for _, tc := range c.TargetClasses {
		if tc == class {
			return true
		}
	}
	return false
}

// CollectRequest carries everything a collector needs for one task.
type CollectRequest struct {
	InvestigationID string
	Target          string
	TargetClass     intel.TargetClass
	Keywords        []string
	SearchDepth     string
	// ProxyURL is set when the pool assigned an egress proxy, else empty.
	ProxyURL string
}

// RecordStream is a lazy, finite, non-restartable sequence of raw records.
//
// Next returns io.EOF when the sequence is exhausted. A *ParseError return
// applies to that record only — the caller skips it and calls Next again.
// Any other error aborts the task.
type RecordStream interface {
	Next(ctx context.Context) (intel.RawRecord, error)
}

// Collector is the plugin boundary toward each source adapter. Adapters are
// registered at process start, not discovered at runtime.
type Collector interface {
	// Name returns the unique source id.
	Name() string
	// Capabilities returns the declared capability set.
	Capabilities() Capabilities
	// Mapping declares how this source's payload fields map onto canonical
	// entity types; unmapped fields are preserved in raw_context.
	Mapping() FieldMapping
	// Collect starts one collection run. The returned stream must observe
	// ctx cancellation at every suspension point.
	Collect(ctx context.Context, req CollectRequest) (RecordStream, error)
	// HealthCheck verifies connectivity.
	HealthCheck(ctx context.Context) error
}

// FieldMapping maps payload field names to the entity type of the finding
// extracted from them.
type FieldMapping map[string]intel.EntityType

// sliceStream adapts a fixed record slice to RecordStream. Used by tests and
// by adapters that fetch a full page before iterating.
type sliceStream struct {
	sourceID string
	records  []intel.RawRecord
	errs     []error // parallel to records; nil for clean records
	pos      int
}

// NewSliceStream wraps pre-fetched records in a RecordStream. errs may be nil
// or a parallel slice carrying a *ParseError for records that failed to
// decode.
func NewSliceStream(sourceID string, records []intel.RawRecord, errs []error) RecordStream {
	return &sliceStream{sourceID: sourceID, records: records, errs: errs}
}

func (s *sliceStream) Next(ctx context.Context) (intel.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return intel.RawRecord{}, err
	}
	if s.pos >= len(s.records) {
		return intel.RawRecord{}, io.EOF
	}
	i := s.pos
	s.pos++
	if s.errs != nil && s.errs[i] != nil {
		return intel.RawRecord{}, s.errs[i]
	}
	return s.records[i], nil
}
