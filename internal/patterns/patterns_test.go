package patterns

import (
	"testing"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// =============================================================================
// Phone Pattern Tests
// =============================================================================

// TestMatchPhone_SaudiFormats verifies that all common Saudi mobile formats
// canonicalize to the same country-code-prefixed digit string.
func TestMatchPhone_SaudiFormats(t *testing.T) {
	inputs := []string{
		"+966501234567",
		"00966501234567",
		"0501234567",
		"501234567",
		"+966 50 123 4567",
	}

	for _, in := range inputs {
		spec, canonical, ok := MatchPhone(StripPhone(in))
		if !ok {
			t.Fatalf("MatchPhone(%q) did not match", in)
		}
		if spec.CountryCode != "966" {
			t.Errorf("MatchPhone(%q) country = %s, want 966", in, spec.CountryCode)
		}
		if canonical != "966501234567" {
			t.Errorf("MatchPhone(%q) canonical = %s, want 966501234567", in, canonical)
		}
	}
}

// TestMatchPhone_GulfPlans checks one number per supported numbering plan.
func TestMatchPhone_GulfPlans(t *testing.T) {
	tests := []struct {
		input   string
		country string
	}{
		{"+971501234567", "971"}, // UAE
		{"+97450123456", "974"},  // Qatar
		{"+96550123456", "965"},  // Kuwait
		{"+97336123456", "973"},  // Bahrain
		{"+96891234567", "968"},  // Oman
	}

	for _, tt := range tests {
		spec, _, ok := MatchPhone(StripPhone(tt.input))
		if !ok {
			t.Errorf("MatchPhone(%q) did not match", tt.input)
			continue
		}
		if spec.CountryCode != tt.country {
			t.Errorf("MatchPhone(%q) country = %s, want %s", tt.input, spec.CountryCode, tt.country)
		}
	}
}

// TestMatchPhone_Invalid verifies garbage does not match any plan.
func TestMatchPhone_Invalid(t *testing.T) {
	for _, in := range []string{"12345", "", "999999999999999", "abcdef"} {
		if _, _, ok := MatchPhone(StripPhone(in)); ok {
			t.Errorf("MatchPhone(%q) matched, want no match", in)
		}
	}
}

// =============================================================================
// Name Folding Tests
// =============================================================================

// TestFoldName_BusinessSuffixes verifies legal suffixes and punctuation are
// dropped so company name variants collide.
func TestFoldName_BusinessSuffixes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Al-Rajhi Trading LLC", "al rajhi trading"},
		{"Al Rajhi Trading", "al rajhi trading"},
		{"ACME Corp.", "acme"},
		{"Acme  Inc", "acme"},
		{"Mohammed Al-Qahtani", "mohammed al qahtani"},
	}

	for _, tt := range tests {
		if got := FoldName(tt.input); got != tt.want {
			t.Errorf("FoldName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// =============================================================================
// Domain Tests
// =============================================================================

// TestIsPersonalDomain covers the personal-provider list boundary.
func TestIsPersonalDomain(t *testing.T) {
	if !IsPersonalDomain("gmail.com") {
		t.Error("gmail.com should be personal")
	}
	if IsPersonalDomain("acme-trading.sa") {
		t.Error("acme-trading.sa should not be personal")
	}
}

// TestIsSuspiciousTLD covers the low-trust TLD list.
func TestIsSuspiciousTLD(t *testing.T) {
	if !IsSuspiciousTLD("free-offers.tk") {
		t.Error(".tk should be suspicious")
	}
	if IsSuspiciousTLD("example.com") {
		t.Error(".com should not be suspicious")
	}
}

// =============================================================================
// Target Classification Tests
// =============================================================================

// TestClassifyTarget exercises the priority order of the detection patterns.
func TestClassifyTarget(t *testing.T) {
	tests := []struct {
		input string
		want  intel.TargetClass
	}{
		{"unemployed software developers in Riyadh", intel.TargetPeopleGroup},
		{"freelancers available for hire", intel.TargetPeopleGroup},
		{"hotels in Dubai", intel.TargetBusinessCategory},
		{"catering services companies", intel.TargetServiceProviders},
		{"renewable energy", intel.TargetTopicResearch},
		{"acme-trading.sa", intel.TargetDomainEntity},
		{"anything else entirely", intel.TargetMixed},
	}

	for _, tt := range tests {
		if got := ClassifyTarget(tt.input); got != tt.want {
			t.Errorf("ClassifyTarget(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}
