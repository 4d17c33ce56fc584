// Package score folds source tier, validation outcome, and cross-source
// corroboration into the single confidence number carried by every Finding
// and Entity.
package score

import (
	"sort"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// Config holds the scoring weights. One consistent formula, applied
// everywhere:
//
//	finding confidence = clip(tier_multiplier × validation_factor)
//	entity confidence  = clip(best_member × (1 + bonus × min(sources−1, cap)))
//
// Tier multipliers sit below 1.0 so corroboration always has headroom: an
// entity attested by several independent sources must be able to score
// strictly above its best single member.
type Config struct {
	// TierMultipliers index 0 is unused; 1..4 map to source tiers.
	TierMultipliers [5]float64 `yaml:"tier_multipliers"`
	// InvalidPenalty multiplies the confidence of findings that failed
	// validation. Valid and inconclusive findings are unaffected.
	InvalidPenalty float64 `yaml:"invalid_penalty"`
	// CorroborationBonus is the per-additional-source boost.
	CorroborationBonus float64 `yaml:"corroboration_bonus"`
	// CorroborationCap bounds how many additional sources count.
	CorroborationCap int `yaml:"corroboration_cap"`
}

// DefaultConfig returns the documented default weights.
func DefaultConfig() Config {
	return Config{
		TierMultipliers:    [5]float64{0, 0.95, 0.85, 0.70, 0.50},
		InvalidPenalty:     0.5,
		CorroborationBonus: 0.10,
		CorroborationCap:   3,
	}
}

// Scorer computes confidences. Stateless apart from its weights.
type Scorer struct {
	cfg Config
}

// New creates a scorer, falling back to defaults for zeroed weights.
func New(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.TierMultipliers[1] == 0 {
		cfg.TierMultipliers = def.TierMultipliers
	}
	if cfg.InvalidPenalty <= 0 {
		cfg.InvalidPenalty = def.InvalidPenalty
	}
	if cfg.CorroborationBonus <= 0 {
		cfg.CorroborationBonus = def.CorroborationBonus
	}
	if cfg.CorroborationCap <= 0 {
		cfg.CorroborationCap = def.CorroborationCap
	}
	return &Scorer{cfg: cfg}
}

// TierMultiplier returns the weight for a source tier; out-of-range tiers
// score as tier 4.
func (s *Scorer) TierMultiplier(tier int) float64 {
	if tier < 1 || tier > 4 {
		tier = 4
	}
	return s.cfg.TierMultipliers[tier]
}

// ScoreFinding computes one finding's confidence from its tier and
// validation status. Inconclusive is deliberately penalty-free: an
// inapplicable check is not evidence against the data.
func (s *Scorer) ScoreFinding(f intel.Finding) float64 {
	confidence := s.TierMultiplier(f.SourceTier)
	if f.ValidationStatus == intel.ValidationInvalid {
		confidence *= s.cfg.InvalidPenalty
	}
	return clip(confidence)
}

// ScoreFindings sets confidence on every finding in place.
func (s *Scorer) ScoreFindings(findings []intel.Finding) {
	for i := range findings {
		findings[i].Confidence = s.ScoreFinding(findings[i])
	}
}

// ScoreEntities sets each entity's aggregate confidence: the best member
// confidence boosted by corroboration from distinct sources. Independent
// agreement is exactly what a simple average would wash out, so the formula
// rewards it explicitly.
func (s *Scorer) ScoreEntities(entities []intel.Entity, findings []intel.Finding) {
	byID := make(map[intel.FindingID]*intel.Finding, len(findings))
	for i := range findings {
		byID[findings[i].ID] = &findings[i]
	}

	for i := range entities {
		e := &entities[i]

		best := 0.0
		sources := make(map[string]struct{})
		for _, id := range e.Members {
			f, ok := byID[id]
			if !ok {
				continue
			}
			if f.Confidence > best {
				best = f.Confidence
			}
			sources[f.SourceID] = struct{}{}
		}
		e.AggregateConfidence = clip(best * s.Corroboration(len(sources)))
	}
}

// Corroboration returns the multiplicative factor for n distinct sources.
func (s *Scorer) Corroboration(distinctSources int) float64 {
	extra := distinctSources - 1
	if extra < 0 {
		extra = 0
	}
	if extra > s.cfg.CorroborationCap {
		extra = s.cfg.CorroborationCap
	}
	return 1 + s.cfg.CorroborationBonus*float64(extra)
}

// TopEntities returns entities at or above the confidence threshold, highest
// first. Used by the read surface's confidence filter.
func TopEntities(entities []intel.Entity, threshold float64) []intel.Entity {
	var out []intel.Entity
	for _, e := range entities {
		if e.AggregateConfidence >= threshold {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AggregateConfidence != out[j].AggregateConfidence {
			return out[i].AggregateConfidence > out[j].AggregateConfidence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
