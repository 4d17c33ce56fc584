package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// Registry holds the statically registered collectors and answers planning
// queries. Registration happens once at process start; lookups are read-only
// afterwards, but the lock keeps the type safe for tests that build
// registries concurrently.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[string]Collector)}
}

// Register adds a collector. Duplicate names are a programming error.
func (r *Registry) Register(c Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if name == "" {
		return fmt.Errorf("collector has empty name")
	}
	if _, exists := r.collectors[name]; exists {
		return fmt.Errorf("collector %q already registered", name)
	}
	caps := c.Capabilities()
	if caps.Tier < 1 || caps.Tier > 4 {
		return fmt.Errorf("collector %q: tier %d out of range 1-4", name, caps.Tier)
	}
	r.collectors[name] = c
	return nil
}

// Get returns a collector by source id.
func (r *Registry) Get(name string) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[name]
	return c, ok
}

// All returns every registered collector, ordered by name.
func (r *Registry) All() []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Collector, 0, len(r.collectors))
	for _, c := range r.collectors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ForTarget returns the collectors applicable to a target classification,
// ordered most-trusted first: ascending tier number, then descending
// priority, then name for determinism. An unknown or unsupported class
// yields an empty slice, which is not an error.
func (r *Registry) ForTarget(class intel.TargetClass) []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Collector
	for _, c := range r.collectors {
		if c.Capabilities().AppliesTo(class) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].Capabilities(), out[j].Capabilities()
		if ci.Tier != cj.Tier {
			return ci.Tier < cj.Tier
		}
		if ci.Priority != cj.Priority {
			return ci.Priority > cj.Priority
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}
