// Package intel defines the canonical data model for the discovery and
// correlation engine: Findings, Entities, Relationships, and the investigation
// lifecycle types shared by every other package.
package intel

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// EntityType classifies what a Finding (and the Entity it rolls up into)
// denotes in the real world.
type EntityType string

const (
	EntityPerson        EntityType = "person"
	EntityBusiness      EntityType = "business"
	EntityContactEmail  EntityType = "contact_email"
	EntityContactPhone  EntityType = "contact_phone"
	EntityDomain        EntityType = "domain"
	EntitySocialProfile EntityType = "social_profile"
	EntityDocument      EntityType = "document"
	EntityOther         EntityType = "other"
)

// ValidationStatus records the outcome of the validation pass for a Finding.
type ValidationStatus string

const (
	ValidationUnvalidated  ValidationStatus = "unvalidated"
	ValidationValid        ValidationStatus = "valid"
	ValidationInvalid      ValidationStatus = "invalid"
	ValidationInconclusive ValidationStatus = "inconclusive"
)

// TargetClass is the externally supplied classification of an investigation
// target. The engine never infers it; the submitting collaborator does.
type TargetClass string

const (
	TargetPeopleGroup          TargetClass = "people_group"
	TargetBusinessCategory     TargetClass = "business_category"
	TargetServiceProviders     TargetClass = "service_providers"
	TargetProfessionalCategory TargetClass = "professional_category"
	TargetDomainEntity         TargetClass = "domain_entity"
	TargetPersonIndividual     TargetClass = "person_individual"
	TargetTopicResearch        TargetClass = "topic_research"
	TargetMixed                TargetClass = "mixed_intelligence"
)

// TaskStatus tracks a single collector task inside an investigation.
type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskRunning     TaskStatus = "running"
	TaskSucceeded   TaskStatus = "succeeded"
	TaskFailed      TaskStatus = "failed"
	TaskRateLimited TaskStatus = "rate_limited"
	TaskCancelled   TaskStatus = "cancelled"
)

// InvestigationState is the orchestrator state machine.
type InvestigationState string

const (
	StateCreated        InvestigationState = "created"
	StatePlanning       InvestigationState = "planning"
	StateCollecting     InvestigationState = "collecting"
	StateValidating     InvestigationState = "validating"
	StateCorrelating    InvestigationState = "correlating"
	StateCompleted      InvestigationState = "completed"
	StatePartialSuccess InvestigationState = "partial_success"
	StateFailed         InvestigationState = "failed"
	StateCancelled      InvestigationState = "cancelled"
)

// Terminal reports whether the state is an end state.
func (s InvestigationState) Terminal() bool {
	switch s {
	case StateCompleted, StatePartialSuccess, StateFailed, StateCancelled:
		return true
	}
	return false
}

// RawRecord is the opaque unit a collector emits. It is consumed immediately
// by the normalizer and never persisted as-is.
type RawRecord struct {
	SourceID  string         `json:"source_id"`
	FetchedAt time.Time      `json:"fetched_at"`
	Payload   map[string]any `json:"payload"`
}

// RecordID derives a stable identifier for the originating payload. Findings
// extracted from the same record share it, which is what lets the correlator
// link entities on co-occurrence evidence rather than inference.
func (r RawRecord) RecordID() string {
	keys := make([]string, 0, len(r.Payload))
	for k := range r.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(r.SourceID))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		if b, err := json.Marshal(r.Payload[k]); err == nil {
			h.Write(b)
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// FindingID is an arena index assigned by the engine in creation order.
// Integer ids plus a separate parent/rank structure keep the correlator free
// of cyclic object references.
type FindingID int

// Finding is one immutable, source-attributed piece of extracted data.
// Correction happens by appending a new Finding, never by mutating an
// existing one, so provenance is always reconstructable. The single exception
// is the validating/scoring pass, which seals the set before anything else
// can observe it.
type Finding struct {
	ID               FindingID        `json:"id"`
	InvestigationID  string           `json:"investigation_id"`
	EntityType       EntityType       `json:"entity_type"`
	RawValue         string           `json:"raw_value"`
	NormalizedValue  string           `json:"normalized_value"`
	SourceID         string           `json:"source_id"`
	SourceTier       int              `json:"source_tier"`
	RecordID         string           `json:"record_id"`
	FirstSeen        time.Time        `json:"first_seen"`
	LastSeen         time.Time        `json:"last_seen"`
	Confidence       float64          `json:"confidence"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	RawContext       map[string]any   `json:"raw_context,omitempty"`
}

// DedupKey is the identity used for exact-match clustering: two findings of
// the same type with the same normalized value denote the same subject.
func (f Finding) DedupKey() string {
	return string(f.EntityType) + ":" + f.NormalizedValue
}

// Entity is a correlated cluster of Findings believed to denote one
// real-world subject. Entities are derived state recomputed by the
// correlator; the Findings remain the source of truth.
type Entity struct {
	ID                  string      `json:"id"`
	InvestigationID     string      `json:"investigation_id"`
	EntityType          EntityType  `json:"entity_type"`
	CanonicalValue      string      `json:"canonical_value"`
	Aliases             []string    `json:"aliases,omitempty"`
	Members             []FindingID `json:"members"`
	AggregateConfidence float64     `json:"aggregate_confidence"`
}

// Relationship is a typed, evidence-backed edge between two Entities.
type Relationship struct {
	ID              string      `json:"id"`
	InvestigationID string      `json:"investigation_id"`
	Kind            string      `json:"kind"`
	From            string      `json:"from"`
	To              string      `json:"to"`
	Evidence        []FindingID `json:"evidence"`
}

// Relationship kinds derived from co-occurrence evidence.
const (
	RelHasContact     = "has_contact"
	RelHasDomain      = "has_domain"
	RelHasProfile     = "has_profile"
	RelAssociatedWith = "associated_with"
)

// InvestigationConfig is the immutable per-investigation configuration
// snapshot. It is constructed once at submission and passed explicitly to the
// orchestrator; there are no process-wide mutable settings.
type InvestigationConfig struct {
	MaxGlobalConcurrency    int           `yaml:"max_global_concurrency" json:"max_global_concurrency"`
	MaxPerSourceConcurrency int           `yaml:"max_per_source_concurrency" json:"max_per_source_concurrency"`
	MaxRetries              int           `yaml:"max_retries" json:"max_retries"`
	RetryBaseDelay          time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	RetryMaxDelay           time.Duration `yaml:"retry_max_delay" json:"retry_max_delay"`
	PerTaskTimeout          time.Duration `yaml:"per_task_timeout" json:"per_task_timeout"`
	InvestigationTimeout    time.Duration `yaml:"investigation_timeout" json:"investigation_timeout"`
	EnabledSources          []string      `yaml:"enabled_sources" json:"enabled_sources"`
	SearchDepth             string        `yaml:"search_depth" json:"search_depth"` // quick, standard, comprehensive
}

// SourceEnabled reports whether a source participates in the investigation.
// An empty EnabledSources list means all registered sources.
func (c InvestigationConfig) SourceEnabled(id string) bool {
	if len(c.EnabledSources) == 0 {
		return true
	}
	for _, s := range c.EnabledSources {
		if s == id {
			return true
		}
	}
	return false
}

// CollectorTask is one planned unit of collection work.
type CollectorTask struct {
	ID              string     `json:"id"`
	InvestigationID string     `json:"investigation_id"`
	SourceID        string     `json:"source_id"`
	Status          TaskStatus `json:"status"`
	Attempts        int        `json:"attempts"`
	Findings        int        `json:"findings"`
	Error           string     `json:"error,omitempty"`
}

// Investigation is one end-to-end discovery run for a single target.
type Investigation struct {
	ID          string              `json:"id"`
	Target      string              `json:"target"`
	TargetClass TargetClass         `json:"target_class"`
	Profile     map[string]any      `json:"profile,omitempty"` // opaque context profile
	Config      InvestigationConfig `json:"config"`
	State       InvestigationState  `json:"state"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Tasks       []CollectorTask     `json:"tasks,omitempty"`
}

// Results is the read-only output of a completed investigation, handed to the
// persistence and analysis collaborators.
type Results struct {
	InvestigationID string         `json:"investigation_id"`
	Findings        []Finding      `json:"findings"`
	Entities        []Entity       `json:"entities"`
	Relationships   []Relationship `json:"relationships"`
}
