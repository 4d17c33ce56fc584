package store

import (
	"context"
	"sort"
	"sync"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// Memory is a mutex-guarded in-process Store.
type Memory struct {
	mu             sync.RWMutex
	closed         bool
	investigations map[string]intel.Investigation
	findings       map[string][]intel.Finding      // by investigation id
	entities       map[string]map[string]intel.Entity
	relationships  map[string]map[string]intel.Relationship
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		investigations: make(map[string]intel.Investigation),
		findings:       make(map[string][]intel.Finding),
		entities:       make(map[string]map[string]intel.Entity),
		relationships:  make(map[string]map[string]intel.Relationship),
	}
}

func (m *Memory) PutInvestigation(_ context.Context, inv intel.Investigation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.investigations[inv.ID] = cloneInvestigation(inv)
	return nil
}

func (m *Memory) GetInvestigation(_ context.Context, id string) (intel.Investigation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return intel.Investigation{}, ErrClosed
	}
	inv, ok := m.investigations[id]
	if !ok {
		return intel.Investigation{}, ErrNotFound
	}
	return cloneInvestigation(inv), nil
}

func (m *Memory) ListInvestigations(_ context.Context) ([]intel.Investigation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]intel.Investigation, 0, len(m.investigations))
	for _, inv := range m.investigations {
		out = append(out, cloneInvestigation(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) PutFindings(_ context.Context, findings []intel.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, f := range findings {
		m.findings[f.InvestigationID] = append(m.findings[f.InvestigationID], f)
	}
	return nil
}

func (m *Memory) ListFindings(_ context.Context, investigationID string, filter FindingFilter) ([]intel.Finding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []intel.Finding
	for _, f := range m.findings[investigationID] {
		if filter.Match(f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpsertEntity(_ context.Context, ent intel.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	byID, ok := m.entities[ent.InvestigationID]
	if !ok {
		byID = make(map[string]intel.Entity)
		m.entities[ent.InvestigationID] = byID
	}
	byID[ent.ID] = ent
	return nil
}

func (m *Memory) ListEntities(_ context.Context, investigationID string) ([]intel.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]intel.Entity, 0, len(m.entities[investigationID]))
	for _, ent := range m.entities[investigationID] {
		out = append(out, ent)
	}
	sortEntities(out)
	return out, nil
}

func (m *Memory) PutRelationship(_ context.Context, rel intel.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	byID, ok := m.relationships[rel.InvestigationID]
	if !ok {
		byID = make(map[string]intel.Relationship)
		m.relationships[rel.InvestigationID] = byID
	}
	byID[rel.ID] = rel
	return nil
}

func (m *Memory) ListRelationships(_ context.Context, investigationID string) ([]intel.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]intel.Relationship, 0, len(m.relationships[investigationID]))
	for _, rel := range m.relationships[investigationID] {
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// cloneInvestigation detaches the Tasks slice so readers never share backing
// memory with the orchestrator's live task records.
func cloneInvestigation(inv intel.Investigation) intel.Investigation {
	if len(inv.Tasks) > 0 {
		tasks := make([]intel.CollectorTask, len(inv.Tasks))
		copy(tasks, inv.Tasks)
		inv.Tasks = tasks
	}
	return inv
}

func sortEntities(ents []intel.Entity) {
	sort.Slice(ents, func(i, j int) bool {
		if ents[i].AggregateConfidence != ents[j].AggregateConfidence {
			return ents[i].AggregateConfidence > ents[j].AggregateConfidence
		}
		return ents[i].ID < ents[j].ID
	})
}
