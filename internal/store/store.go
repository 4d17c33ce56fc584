// Package store persists investigations and their results. Two
// implementations are provided: an in-process Memory store used by tests and
// single-shot CLI runs, and a Badger-backed store for durable deployments.
package store

import (
	"context"
	"errors"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// Common errors.
var (
	ErrNotFound = errors.New("store: not found")
	ErrClosed   = errors.New("store: closed")
)

// FindingFilter narrows ListFindings. Zero values mean no constraint.
type FindingFilter struct {
	EntityType    intel.EntityType
	SourceID      string
	MinConfidence float64
}

// Match reports whether the finding passes the filter.
func (f FindingFilter) Match(fd intel.Finding) bool {
	if f.EntityType != "" && fd.EntityType != f.EntityType {
		return false
	}
	if f.SourceID != "" && fd.SourceID != f.SourceID {
		return false
	}
	if fd.Confidence < f.MinConfidence {
		return false
	}
	return true
}

// Store is the persistence boundary. All reads return copies; callers never
// share memory with the store.
type Store interface {
	// PutInvestigation creates or replaces an investigation record.
	PutInvestigation(ctx context.Context, inv intel.Investigation) error

	// GetInvestigation returns an investigation by id.
	GetInvestigation(ctx context.Context, id string) (intel.Investigation, error)

	// ListInvestigations returns all investigations, newest first.
	ListInvestigations(ctx context.Context) ([]intel.Investigation, error)

	// PutFindings appends the findings of one investigation.
	PutFindings(ctx context.Context, findings []intel.Finding) error

	// ListFindings returns the findings of an investigation in id order,
	// filtered.
	ListFindings(ctx context.Context, investigationID string, filter FindingFilter) ([]intel.Finding, error)

	// UpsertEntity creates or replaces a correlated entity.
	UpsertEntity(ctx context.Context, ent intel.Entity) error

	// ListEntities returns the entities of an investigation sorted by
	// aggregate confidence, highest first.
	ListEntities(ctx context.Context, investigationID string) ([]intel.Entity, error)

	// PutRelationship creates or replaces a relationship edge.
	PutRelationship(ctx context.Context, rel intel.Relationship) error

	// ListRelationships returns the relationship edges of an investigation.
	ListRelationships(ctx context.Context, investigationID string) ([]intel.Relationship, error)

	// Close releases resources. The store is unusable afterwards.
	Close() error
}

// SaveResults writes a full result set in one logical operation.
func SaveResults(ctx context.Context, s Store, res intel.Results) error {
	if err := s.PutFindings(ctx, res.Findings); err != nil {
		return err
	}
	for _, ent := range res.Entities {
		if err := s.UpsertEntity(ctx, ent); err != nil {
			return err
		}
	}
	for _, rel := range res.Relationships {
		if err := s.PutRelationship(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}
