// Package correlate clusters Findings that denote the same real-world
// subject into Entities and derives evidence-based Relationships between
// them. Clustering is union-find over the finding arena; the whole pass is
// deterministic and idempotent, so re-correlating an unchanged finding set
// always reproduces the same graph.
package correlate

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// Config tunes the merge rules.
type Config struct {
	// NameEditDistance is the maximum edit distance at which two person or
	// organization names (already case-folded and punctuation-stripped)
	// are considered the same subject.
	NameEditDistance int `yaml:"name_edit_distance"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{NameEditDistance: 2}
}

// Correlator performs the clustering pass. It runs single-writer over an
// immutable finding slice and touches no shared state.
type Correlator struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a correlator.
func New(cfg Config, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NameEditDistance <= 0 {
		cfg.NameEditDistance = 2
	}
	return &Correlator{cfg: cfg, logger: logger}
}

// Correlate clusters the findings and derives relationships. The input slice
// is indexed by position; finding ids are expected to equal their arena
// position (the engine guarantees this).
func (c *Correlator) Correlate(investigationID string, findings []intel.Finding) ([]intel.Entity, []intel.Relationship) {
	if len(findings) == 0 {
		return nil, nil
	}

	uf := newUnionFind(len(findings))

	// Exact rule first: identical (type, normalized value) always merges.
	// Then the fuzzy rule for name types. Pairs are visited in ascending
	// (i, j) order; combined with the deterministic union tie-break this
	// makes the clustering independent of id-generation order.
	byKey := make(map[string]int)
	for i, f := range findings {
		key := f.DedupKey()
		if first, seen := byKey[key]; seen {
			uf.union(first, i)
		} else {
			byKey[key] = i
		}
	}

	for i := 0; i < len(findings); i++ {
		if !fuzzyType(findings[i].EntityType) {
			continue
		}
		for j := i + 1; j < len(findings); j++ {
			if findings[j].EntityType != findings[i].EntityType {
				continue
			}
			if uf.find(i) == uf.find(j) {
				continue
			}
			if withinDistance(findings[i].NormalizedValue, findings[j].NormalizedValue, c.cfg.NameEditDistance) {
				uf.union(i, j)
			}
		}
	}

	entities := c.buildEntities(investigationID, findings, uf)
	relationships := c.buildRelationships(investigationID, findings, uf, entities)

	c.logger.Info("Correlation completed",
		zap.String("investigation_id", investigationID),
		zap.Int("findings", len(findings)),
		zap.Int("entities", len(entities)),
		zap.Int("relationships", len(relationships)),
	)
	return entities, relationships
}

// fuzzyType reports whether near-match merging applies. Phones, emails and
// domains merge on exact canonical form only — a one-digit-off phone number
// is a different phone number.
func fuzzyType(t intel.EntityType) bool {
	return t == intel.EntityPerson || t == intel.EntityBusiness
}

func (c *Correlator) buildEntities(investigationID string, findings []intel.Finding, uf *unionFind) []intel.Entity {
	clusters := make(map[int][]int)
	for i := range findings {
		root := uf.find(i)
		clusters[root] = append(clusters[root], i)
	}

	roots := make([]int, 0, len(clusters))
	for root := range clusters {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	entities := make([]intel.Entity, 0, len(roots))
	for _, root := range roots {
		members := clusters[root]
		sort.Ints(members)

		// Canonical value comes from the best-attested member: highest
		// tier first (1 beats 4), then highest confidence, then lowest id.
		best := members[0]
		for _, m := range members[1:] {
			fb, fm := findings[best], findings[m]
			switch {
			case fm.SourceTier < fb.SourceTier:
				best = m
			case fm.SourceTier == fb.SourceTier && fm.Confidence > fb.Confidence:
				best = m
			}
		}

		canonical := findings[best].NormalizedValue
		var aliases []string
		seen := map[string]struct{}{canonical: {}}
		ids := make([]intel.FindingID, len(members))
		for i, m := range members {
			ids[i] = findings[m].ID
			if v := findings[m].NormalizedValue; v != "" {
				if _, dup := seen[v]; !dup {
					seen[v] = struct{}{}
					aliases = append(aliases, v)
				}
			}
		}
		sort.Strings(aliases)

		entities = append(entities, intel.Entity{
			ID:              entityID(findings[root].EntityType, members, findings),
			InvestigationID: investigationID,
			EntityType:      findings[root].EntityType,
			CanonicalValue:  canonical,
			Aliases:         aliases,
			Members:         ids,
		})
	}
	return entities
}

// entityID is a stable hash of the cluster's content, independent of the
// order finding ids were generated in. Re-running correlation upserts the
// same entities rather than minting new ones.
func entityID(t intel.EntityType, members []int, findings []intel.Finding) string {
	values := make([]string, 0, len(members))
	for _, m := range members {
		values = append(values, findings[m].NormalizedValue)
	}
	sort.Strings(values)

	h := sha256.New()
	h.Write([]byte(t))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(values, "\x00")))
	return "ent_" + hex.EncodeToString(h.Sum(nil)[:12])
}

// buildRelationships links entities of different types that co-occur in
// findings extracted from the same source payload. This is evidence-based:
// the edge exists because one page said both things, not because the engine
// inferred an association.
func (c *Correlator) buildRelationships(investigationID string, findings []intel.Finding, uf *unionFind, entities []intel.Entity) []intel.Relationship {
	entityByRoot := make(map[int]*intel.Entity, len(entities))
	rootByFinding := make([]int, len(findings))
	for i := range findings {
		rootByFinding[i] = uf.find(i)
	}
	memberRoot := make(map[intel.FindingID]int, len(findings))
	for i, f := range findings {
		memberRoot[f.ID] = rootByFinding[i]
	}
	for i := range entities {
		e := &entities[i]
		if len(e.Members) > 0 {
			entityByRoot[memberRoot[e.Members[0]]] = e
		}
	}

	// Group findings by originating payload.
	type groupKey struct {
		source string
		record string
	}
	groups := make(map[groupKey][]int)
	for i, f := range findings {
		k := groupKey{f.SourceID, f.RecordID}
		groups[k] = append(groups[k], i)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].source != keys[j].source {
			return keys[i].source < keys[j].source
		}
		return keys[i].record < keys[j].record
	})

	type edgeKey struct {
		from, to string
	}
	edges := make(map[edgeKey]*intel.Relationship)
	var order []edgeKey

	for _, k := range keys {
		members := groups[k]
		sort.Ints(members)
		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				fa, fb := findings[members[a]], findings[members[b]]
				if fa.EntityType == fb.EntityType {
					continue
				}
				ea := entityByRoot[rootByFinding[members[a]]]
				eb := entityByRoot[rootByFinding[members[b]]]
				if ea == nil || eb == nil || ea.ID == eb.ID {
					continue
				}

				from, to := orientEdge(ea, eb)
				ek := edgeKey{from.ID, to.ID}
				rel, ok := edges[ek]
				if !ok {
					rel = &intel.Relationship{
						ID:              relationshipID(from.ID, to.ID),
						InvestigationID: investigationID,
						Kind:            relationKind(from.EntityType, to.EntityType),
						From:            from.ID,
						To:              to.ID,
					}
					edges[ek] = rel
					order = append(order, ek)
				}
				rel.Evidence = appendUnique(rel.Evidence, fa.ID, fb.ID)
			}
		}
	}

	out := make([]intel.Relationship, 0, len(order))
	for _, ek := range order {
		rel := edges[ek]
		sort.Slice(rel.Evidence, func(i, j int) bool { return rel.Evidence[i] < rel.Evidence[j] })
		out = append(out, *rel)
	}
	return out
}

// orientEdge points the edge from the "subject" entity (person or business
// when present) toward the attribute entity, falling back to type order so
// the direction is always deterministic.
func orientEdge(a, b *intel.Entity) (*intel.Entity, *intel.Entity) {
	rank := func(t intel.EntityType) int {
		switch t {
		case intel.EntityBusiness:
			return 0
		case intel.EntityPerson:
			return 1
		default:
			return 2
		}
	}
	ra, rb := rank(a.EntityType), rank(b.EntityType)
	if ra < rb {
		return a, b
	}
	if rb < ra {
		return b, a
	}
	if a.EntityType <= b.EntityType {
		return a, b
	}
	return b, a
}

func relationKind(from, to intel.EntityType) string {
	switch to {
	case intel.EntityContactEmail, intel.EntityContactPhone:
		return intel.RelHasContact
	case intel.EntityDomain:
		return intel.RelHasDomain
	case intel.EntitySocialProfile:
		return intel.RelHasProfile
	default:
		return intel.RelAssociatedWith
	}
}

func relationshipID(from, to string) string {
	h := sha256.Sum256([]byte(from + "->" + to))
	return "rel_" + hex.EncodeToString(h[:12])
}

func appendUnique(evidence []intel.FindingID, ids ...intel.FindingID) []intel.FindingID {
	for _, id := range ids {
		dup := false
		for _, e := range evidence {
			if e == id {
				dup = true
				break
			}
		}
		if !dup {
			evidence = append(evidence, id)
		}
	}
	return evidence
}

// withinDistance reports whether the Levenshtein distance between a and b is
// at most max. Banded computation; bails out early once the band exceeds max.
func withinDistance(a, b string, max int) bool {
	if a == b {
		return true
	}
	la, lb := len(a), len(b)
	if la-lb > max || lb-la > max {
		return false
	}

	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			if cur[j] < rowMin {
				rowMin = cur[j]
			}
		}
		if rowMin > max {
			return false
		}
		prev, cur = cur, prev
	}
	return prev[lb] <= max
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
