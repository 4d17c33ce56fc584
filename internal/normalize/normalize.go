// Package normalize maps raw per-source payloads into canonical Findings.
// The design philosophy is that partial or unclear information still has
// documentation value: any payload field without a declared mapping target is
// preserved verbatim in raw_context rather than discarded.
package normalize

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/lvonguyen/intelforge/internal/intel"
	"github.com/lvonguyen/intelforge/internal/patterns"
	"github.com/lvonguyen/intelforge/internal/source"
)

// Normalizer converts RawRecords into Findings using each source's declared
// field mapping. It is stateless; finding ids are assigned by the caller.
type Normalizer struct{}

// New creates a normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize extracts zero or more Findings from one record. Every mapped
// field present in the payload yields one Finding; all of them share the
// record id and a raw_context holding the unmapped remainder. Within a
// record, findings are emitted in a stable field order so RawRecord emission
// order is preserved into Finding creation order.
func (n *Normalizer) Normalize(rec intel.RawRecord, mapping source.FieldMapping, tier int, investigationID string) []intel.Finding {
	if len(rec.Payload) == 0 {
		return nil
	}

	recordID := rec.RecordID()
	now := rec.FetchedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rawContext := make(map[string]any)
	for field, value := range rec.Payload {
		if _, mapped := mapping[field]; !mapped {
			rawContext[field] = value
		}
	}
	if len(rawContext) == 0 {
		rawContext = nil
	}

	// Deterministic field order: mapping iteration order is random, so walk
	// the payload through a sorted view of the mapping keys.
	fields := sortedKeys(mapping)

	var findings []intel.Finding
	for _, field := range fields {
		value, ok := rec.Payload[field]
		if !ok {
			continue
		}
		raw := stringify(value)
		if strings.TrimSpace(raw) == "" {
			continue
		}

		entityType := mapping[field]
		findings = append(findings, intel.Finding{
			InvestigationID:  investigationID,
			EntityType:       entityType,
			RawValue:         raw,
			NormalizedValue:  Canonicalize(entityType, raw),
			SourceID:         rec.SourceID,
			SourceTier:       tier,
			RecordID:         recordID,
			FirstSeen:        now,
			LastSeen:         now,
			ValidationStatus: intel.ValidationUnvalidated,
			RawContext:       rawContext,
		})
	}
	return findings
}

// Canonicalize applies type-specific canonicalization to a raw value. The
// result is the matching key used by the correlator, so it must be stable
// across sources: the same real-world value from three differently formatted
// sources has to come out byte-identical.
func Canonicalize(t intel.EntityType, raw string) string {
	v := strings.TrimSpace(raw)
	switch t {
	case intel.EntityContactPhone:
		digits := patterns.StripPhone(v)
		if _, canonical, ok := patterns.MatchPhone(digits); ok {
			return canonical
		}
		return digits
	case intel.EntityContactEmail:
		return strings.ToLower(v)
	case intel.EntityDomain:
		return canonicalDomain(v)
	case intel.EntitySocialProfile, intel.EntityDocument:
		return canonicalURL(v)
	case intel.EntityPerson, intel.EntityBusiness:
		return patterns.FoldName(v)
	default:
		return strings.ToLower(v)
	}
}

func canonicalDomain(v string) string {
	v = strings.ToLower(v)
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	v = strings.TrimPrefix(v, "www.")
	if i := strings.IndexAny(v, "/?#"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSuffix(v, ".")
}

func canonicalURL(v string) string {
	u, err := url.Parse(strings.TrimSpace(v))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(v))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/")
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case float64:
		// JSON numbers arrive as float64; phone fields are sometimes bare
		// numbers in sloppy APIs.
		return strings.TrimSuffix(fmt.Sprintf("%.0f", x), ".")
	default:
		return fmt.Sprintf("%v", x)
	}
}

func sortedKeys(m source.FieldMapping) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
