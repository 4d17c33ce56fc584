package normalize

import (
	"testing"
	"time"

	"github.com/lvonguyen/intelforge/internal/intel"
	"github.com/lvonguyen/intelforge/internal/source"
)

// ============================================================================
// Canonicalization
// ============================================================================

// TestCanonicalize_PhoneFormats verifies that differently formatted renditions
// of the same Saudi mobile number all canonicalize to one matching key.
func TestCanonicalize_PhoneFormats(t *testing.T) {
	inputs := []string{
		"+966501234567",
		"00966501234567",
		"0501234567",
		"+966 50 123 4567",
		"050-123-4567",
	}
	const want = "966501234567"
	for _, in := range inputs {
		if got := Canonicalize(intel.EntityContactPhone, in); got != want {
			t.Errorf("Canonicalize(phone, %q) = %q, want %q", in, got, want)
		}
	}
}

// TestCanonicalize_UnmatchedPhone verifies that a number no dialing plan claims
// still degrades to its bare digit string rather than being dropped.
func TestCanonicalize_UnmatchedPhone(t *testing.T) {
	if got := Canonicalize(intel.EntityContactPhone, "+1 (212) 555-0187"); got != "12125550187" {
		t.Errorf("Canonicalize(phone) = %q, want %q", got, "12125550187")
	}
}

// TestCanonicalize_Email verifies case folding on addresses.
func TestCanonicalize_Email(t *testing.T) {
	if got := Canonicalize(intel.EntityContactEmail, "  Ahmed.Hassan@Gmail.COM "); got != "ahmed.hassan@gmail.com" {
		t.Errorf("Canonicalize(email) = %q", got)
	}
}

// TestCanonicalize_Domain verifies scheme, www and path stripping.
func TestCanonicalize_Domain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://www.Acme-Trading.SA/about?ref=1", "acme-trading.sa"},
		{"http://acme-trading.sa.", "acme-trading.sa"},
		{"acme-trading.sa", "acme-trading.sa"},
	}
	for _, tc := range cases {
		if got := Canonicalize(intel.EntityDomain, tc.in); got != tc.want {
			t.Errorf("Canonicalize(domain, %q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestCanonicalize_URL verifies that profile URLs lose fragments and trailing
// slashes but keep the query string, which often carries the profile id.
func TestCanonicalize_URL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTPS://Twitter.com/ahmed_h/#latest", "https://twitter.com/ahmed_h"},
		{"https://example.com/profile?id=42", "https://example.com/profile?id=42"},
	}
	for _, tc := range cases {
		if got := Canonicalize(intel.EntitySocialProfile, tc.in); got != tc.want {
			t.Errorf("Canonicalize(url, %q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestCanonicalize_PersonName verifies diacritic-free name folding.
func TestCanonicalize_PersonName(t *testing.T) {
	if got := Canonicalize(intel.EntityPerson, "Ahmed  AL-Hassan"); got != "ahmed al hassan" {
		t.Errorf("Canonicalize(person) = %q", got)
	}
}

// ============================================================================
// Record normalization
// ============================================================================

// TestNormalize_MappedFields verifies that each mapped payload field yields one
// finding and that the unmapped remainder lands in raw_context on every one.
func TestNormalize_MappedFields(t *testing.T) {
	rec := intel.RawRecord{
		SourceID:  "linkedin",
		FetchedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Payload: map[string]any{
			"email":    "Ahmed@Gmail.com",
			"phone":    "0501234567",
			"headline": "Senior Developer at Acme",
		},
	}
	mapping := source.FieldMapping{
		"email": intel.EntityContactEmail,
		"phone": intel.EntityContactPhone,
	}

	findings := New().Normalize(rec, mapping, 1, "inv-1")
	if len(findings) != 2 {
		t.Fatalf("Normalize returned %d findings, want 2", len(findings))
	}

	// Sorted mapping keys: email before phone.
	if findings[0].EntityType != intel.EntityContactEmail || findings[0].NormalizedValue != "ahmed@gmail.com" {
		t.Errorf("findings[0] = %s %q", findings[0].EntityType, findings[0].NormalizedValue)
	}
	if findings[1].EntityType != intel.EntityContactPhone || findings[1].NormalizedValue != "966501234567" {
		t.Errorf("findings[1] = %s %q", findings[1].EntityType, findings[1].NormalizedValue)
	}

	for i, fd := range findings {
		if fd.RecordID != rec.RecordID() {
			t.Errorf("findings[%d].RecordID = %q, want shared record id", i, fd.RecordID)
		}
		if fd.SourceID != "linkedin" || fd.SourceTier != 1 {
			t.Errorf("findings[%d] provenance = %q tier %d", i, fd.SourceID, fd.SourceTier)
		}
		if fd.ValidationStatus != intel.ValidationUnvalidated {
			t.Errorf("findings[%d].ValidationStatus = %q", i, fd.ValidationStatus)
		}
		if got, ok := fd.RawContext["headline"]; !ok || got != "Senior Developer at Acme" {
			t.Errorf("findings[%d].RawContext missing unmapped field: %v", i, fd.RawContext)
		}
		if !fd.FirstSeen.Equal(rec.FetchedAt) || !fd.LastSeen.Equal(rec.FetchedAt) {
			t.Errorf("findings[%d] timestamps not taken from record", i)
		}
	}
}

// TestNormalize_SkipsEmptyValues verifies that blank or absent mapped fields
// produce no finding instead of an empty-valued one.
func TestNormalize_SkipsEmptyValues(t *testing.T) {
	rec := intel.RawRecord{
		SourceID: "whois",
		Payload: map[string]any{
			"email": "   ",
			"name":  "Acme Trading LLC",
		},
	}
	mapping := source.FieldMapping{
		"email":  intel.EntityContactEmail,
		"name":   intel.EntityBusiness,
		"domain": intel.EntityDomain,
	}

	findings := New().Normalize(rec, mapping, 2, "inv-1")
	if len(findings) != 1 {
		t.Fatalf("Normalize returned %d findings, want 1", len(findings))
	}
	if findings[0].EntityType != intel.EntityBusiness || findings[0].NormalizedValue != "acme trading" {
		t.Errorf("finding = %s %q", findings[0].EntityType, findings[0].NormalizedValue)
	}
	if findings[0].RawContext != nil {
		t.Errorf("RawContext = %v, want nil when every payload field is mapped", findings[0].RawContext)
	}
}

// TestNormalize_EmptyPayload verifies the degenerate record is a no-op.
func TestNormalize_EmptyPayload(t *testing.T) {
	if got := New().Normalize(intel.RawRecord{SourceID: "x"}, source.FieldMapping{"a": intel.EntityDomain}, 1, "inv"); got != nil {
		t.Errorf("Normalize(empty payload) = %v, want nil", got)
	}
}

// TestNormalize_NumericPayloadValue verifies that bare JSON numbers, which
// decode as float64, stringify without an exponent or decimal point.
func TestNormalize_NumericPayloadValue(t *testing.T) {
	rec := intel.RawRecord{
		SourceID: "leakdb",
		Payload:  map[string]any{"phone": float64(966501234567)},
	}
	findings := New().Normalize(rec, source.FieldMapping{"phone": intel.EntityContactPhone}, 3, "inv")
	if len(findings) != 1 {
		t.Fatalf("Normalize returned %d findings, want 1", len(findings))
	}
	if findings[0].RawValue != "966501234567" || findings[0].NormalizedValue != "966501234567" {
		t.Errorf("numeric phone = raw %q normalized %q", findings[0].RawValue, findings[0].NormalizedValue)
	}
}

// TestNormalize_Deterministic verifies that repeated normalization of the same
// record yields findings in the same order with identical matching keys.
func TestNormalize_Deterministic(t *testing.T) {
	rec := intel.RawRecord{
		SourceID: "registry",
		Payload: map[string]any{
			"owner_name": "Al-Rajhi Trading LLC",
			"email":      "info@alrajhi.sa",
			"domain":     "www.alrajhi.sa",
		},
	}
	mapping := source.FieldMapping{
		"owner_name": intel.EntityBusiness,
		"email":      intel.EntityContactEmail,
		"domain":     intel.EntityDomain,
	}

	first := New().Normalize(rec, mapping, 1, "inv")
	for i := 0; i < 10; i++ {
		again := New().Normalize(rec, mapping, 1, "inv")
		if len(again) != len(first) {
			t.Fatalf("run %d: %d findings, want %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j].EntityType != first[j].EntityType || again[j].NormalizedValue != first[j].NormalizedValue {
				t.Fatalf("run %d: findings[%d] = %s %q, want %s %q",
					i, j, again[j].EntityType, again[j].NormalizedValue, first[j].EntityType, first[j].NormalizedValue)
			}
		}
	}
}
