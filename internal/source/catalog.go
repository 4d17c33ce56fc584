package source

import (
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// SourceDefinition is one entry in the source catalog: the capability
// metadata for a source expressed as plain data. Adapters are constructed
// from these at process start.
type SourceDefinition struct {
	ID            string              `yaml:"id"`
	Tier          int                 `yaml:"tier"`
	Priority      int                 `yaml:"priority"`
	RatePerMinute int                 `yaml:"rate_per_minute"`
	Burst         int                 `yaml:"burst"`
	RequiresProxy bool                `yaml:"requires_proxy"`
	EntityTypes   []intel.EntityType  `yaml:"entity_types"`
	TargetClasses []intel.TargetClass `yaml:"target_classes"`

	// Adapter wiring.
	BaseURL   string            `yaml:"base_url"`
	APIKeyEnv string            `yaml:"api_key_env"`
	Mapping   map[string]string `yaml:"mapping"` // payload field -> entity type
	Context   []string          `yaml:"context"` // fields kept verbatim in raw_context
}

// Catalog manages source definitions loaded from YAML.
type Catalog struct {
	sources map[string]*SourceDefinition
	logger  *zap.Logger
}

// NewCatalog creates a catalog. A nil logger is replaced with a no-op one.
func NewCatalog(logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		sources: make(map[string]*SourceDefinition),
		logger:  logger,
	}
}

// LoadFile reads a catalog YAML file: a top-level `sources:` list.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading source catalog: %w", err)
	}
	return c.Load(data)
}

// Load parses catalog YAML and validates every definition.
func (c *Catalog) Load(data []byte) error {
	var doc struct {
		Sources []*SourceDefinition `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing source catalog: %w", err)
	}

	for _, def := range doc.Sources {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("source %q: %w", def.ID, err)
		}
		c.sources[def.ID] = def
		c.logger.Info("Source definition loaded",
			zap.String("id", def.ID),
			zap.Int("tier", def.Tier),
		)
	}
	return nil
}

// Get returns a definition by source id.
func (c *Catalog) Get(id string) (*SourceDefinition, bool) {
	def, ok := c.sources[id]
	return def, ok
}

// All returns every loaded definition, id-sorted.
func (c *Catalog) All() []*SourceDefinition {
	out := make([]*SourceDefinition, 0, len(c.sources))
	for _, def := range c.sources {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate checks a definition for internal consistency.
func (d *SourceDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("missing id")
	}
	if d.Tier < 1 || d.Tier > 4 {
		return fmt.Errorf("tier %d out of range 1-4", d.Tier)
	}
	if d.RatePerMinute <= 0 {
		return fmt.Errorf("rate_per_minute must be positive")
	}
	if len(d.EntityTypes) == 0 {
		return fmt.Errorf("at least one entity type required")
	}
	for field, et := range d.Mapping {
		if !validEntityType(intel.EntityType(et)) {
			return fmt.Errorf("mapping field %q: unknown entity type %q", field, et)
		}
	}
	return nil
}

// Capabilities converts the definition into the runtime capability set.
func (d *SourceDefinition) Capabilities() Capabilities {
	burst := d.Burst
	if burst <= 0 {
		burst = 1
	}
	return Capabilities{
		EntityTypes:   d.EntityTypes,
		Tier:          d.Tier,
		Priority:      d.Priority,
		RatePerMinute: d.RatePerMinute,
		Burst:         burst,
		RequiresProxy: d.RequiresProxy,
		TargetClasses: d.TargetClasses,
	}
}

// FieldMapping converts the declared mapping into the normalizer's form.
func (d *SourceDefinition) FieldMapping() FieldMapping {
	m := make(FieldMapping, len(d.Mapping))
	for field, et := range d.Mapping {
		m[field] = intel.EntityType(et)
	}
	return m
}

func validEntityType(t intel.EntityType) bool {
	switch t {
	case intel.EntityPerson, intel.EntityBusiness, intel.EntityContactEmail,
		intel.EntityContactPhone, intel.EntityDomain, intel.EntitySocialProfile,
		intel.EntityDocument, intel.EntityOther:
		return true
	}
	return false
}
