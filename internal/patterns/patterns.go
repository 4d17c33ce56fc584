// Package patterns holds the static knowledge tables consulted during
// normalization and validation: phone numbering plans for the regions the
// engine most often investigates, personal vs. business email domains, and
// business name suffixes. Everything here is plain data with lookup helpers.
package patterns

import (
	"regexp"
	"strings"
)

// CountrySpec describes one country's phone numbering plan well enough to
// recognize and canonicalize numbers found in the wild.
type CountrySpec struct {
	Name        string
	CountryCode string // digits only, e.g. "966"
	Mobile      *regexp.Regexp
	Landline    *regexp.Regexp
}

// Gulf-region plans first (the common case for the sources this engine
// ships with), then a handful of frequently seen international ones.
var countrySpecs = []CountrySpec{
	{
		Name:        "Saudi Arabia",
		CountryCode: "966",
		Mobile:      regexp.MustCompile(`^(?:966|0)?5[0-9]{8}$`),
		Landline:    regexp.MustCompile(`^(?:966|0)?1[1-9][0-9]{6,7}$`),
	},
	{
		Name:        "United Arab Emirates",
		CountryCode: "971",
		Mobile:      regexp.MustCompile(`^(?:971|0)?5[0-9]{8}$`),
		Landline:    regexp.MustCompile(`^(?:971|0)?[2-4][0-9]{7}$`),
	},
	{
		Name:        "Qatar",
		CountryCode: "974",
		Mobile:      regexp.MustCompile(`^(?:974)?[3567][0-9]{7}$`),
		Landline:    regexp.MustCompile(`^(?:974)?4[0-9]{7}$`),
	},
	{
		Name:        "Kuwait",
		CountryCode: "965",
		Mobile:      regexp.MustCompile(`^(?:965)?[569][0-9]{7}$`),
		Landline:    regexp.MustCompile(`^(?:965)?2[0-9]{7}$`),
	},
	{
		Name:        "Bahrain",
		CountryCode: "973",
		Mobile:      regexp.MustCompile(`^(?:973)?3[0-9]{7}$`),
		Landline:    regexp.MustCompile(`^(?:973)?1[0-9]{7}$`),
	},
	{
		Name:        "Oman",
		CountryCode: "968",
		Mobile:      regexp.MustCompile(`^(?:968)?9[0-9]{7}$`),
		Landline:    regexp.MustCompile(`^(?:968)?2[0-9]{7}$`),
	},
}

var nonDigit = regexp.MustCompile(`[^0-9]`)

// StripPhone reduces a phone value to digits only, dropping any leading
// international-dialing prefix markers.
func StripPhone(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "+")
	v = strings.TrimPrefix(v, "00")
	return nonDigit.ReplaceAllString(v, "")
}

// MatchPhone finds the country whose numbering plan recognizes the digits and
// returns the spec plus the fully canonical form (country code prefixed,
// national trunk zero removed). ok is false when no plan matches.
func MatchPhone(digits string) (spec CountrySpec, canonical string, ok bool) {
	for _, cs := range countrySpecs {
		if cs.Mobile.MatchString(digits) || cs.Landline.MatchString(digits) {
			national := strings.TrimPrefix(digits, cs.CountryCode)
			national = strings.TrimPrefix(national, "0")
			return cs, cs.CountryCode + national, true
		}
	}
	return CountrySpec{}, "", false
}

// CountryByCode looks up a spec by its dialing code.
func CountryByCode(code string) (CountrySpec, bool) {
	for _, cs := range countrySpecs {
		if cs.CountryCode == code {
			return cs, true
		}
	}
	return CountrySpec{}, false
}

// Personal mailbox providers; a business contact on one of these carries less
// signal than one on the organization's own domain.
var personalDomains = map[string]struct{}{
	"gmail.com":      {},
	"yahoo.com":      {},
	"hotmail.com":    {},
	"outlook.com":    {},
	"aol.com":        {},
	"icloud.com":     {},
	"live.com":       {},
	"msn.com":        {},
	"protonmail.com": {},
	"mail.com":       {},
	"yandex.com":     {},
}

// IsPersonalDomain reports whether the domain belongs to a consumer mailbox
// provider.
func IsPersonalDomain(domain string) bool {
	_, ok := personalDomains[strings.ToLower(domain)]
	return ok
}

// TLDs with a disproportionate abuse rate; validation marks findings on them
// down rather than discarding them.
var suspiciousTLDs = map[string]struct{}{
	"tk": {}, "ml": {}, "ga": {}, "cf": {}, "top": {}, "click": {}, "download": {},
}

// IsSuspiciousTLD reports whether the domain ends in a high-abuse TLD.
func IsSuspiciousTLD(domain string) bool {
	i := strings.LastIndex(domain, ".")
	if i < 0 {
		return false
	}
	_, ok := suspiciousTLDs[strings.ToLower(domain[i+1:])]
	return ok
}

// Legal-form suffixes stripped when matching organization names.
var businessSuffixes = []string{
	"ltd", "llc", "inc", "corp", "co", "company", "corporation",
	"limited", "sa", "pty", "gmbh", "ag", "spa", "est", "wll",
}

var punct = regexp.MustCompile(`[^\p{L}\p{N} ]+`)
var spaces = regexp.MustCompile(`\s+`)

// FoldName canonicalizes a person or organization name for matching:
// lower-cased, punctuation removed, legal suffixes dropped, whitespace
// collapsed. The display value is kept elsewhere; this form exists only so
// "Hotel X LLC" and "hotel-x" land in the same cluster.
func FoldName(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = punct.ReplaceAllString(v, " ")
	v = spaces.ReplaceAllString(v, " ")
	words := strings.Fields(v)
	for len(words) > 1 {
		last := words[len(words)-1]
		if !isBusinessSuffix(last) {
			break
		}
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func isBusinessSuffix(w string) bool {
	for _, s := range businessSuffixes {
		if w == s {
			return true
		}
	}
	return false
}
