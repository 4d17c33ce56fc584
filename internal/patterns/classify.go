package patterns

import (
	"regexp"
	"strings"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// Target classification lives on the submitting side of the boundary: the
// engine takes the class as given and never re-derives it. ClassifyTarget is
// the helper CLI and API clients use to fill it in.

var peoplePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(unemployed|jobless|seeking|looking for work|available)\b.*\b(developers?|engineers?|managers?|workers?)\b`),
	regexp.MustCompile(`\b(developers?|engineers?|professionals?)\b.*\b(in|from|at)\b`),
	regexp.MustCompile(`\b(job seekers?|candidates?|applicants?)\b`),
	regexp.MustCompile(`\b(freelancers?|contractors?|consultants?)\b`),
	regexp.MustCompile(`\b(delivery|driver|courier)\b.*\b(workers?|staff|personnel)\b`),
}

var businessPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(hotels?|restaurants?|companies?|businesses?)\b.*\b(in|at|from)\b`),
	regexp.MustCompile(`\b(conference|event|wedding)\b.*\b(organizers?|planners?|companies?)\b`),
	regexp.MustCompile(`\b(tech|technology|software|it)\b.*\b(companies?|firms?|startups?)\b`),
	regexp.MustCompile(`\b(retail|shops?|stores?|outlets?)\b`),
}

var servicePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(catering|logistics|transportation|delivery)\b.*\b(services?|companies?)\b`),
	regexp.MustCompile(`\b(marketing|advertising|consulting)\b.*\b(agencies?|firms?)\b`),
	regexp.MustCompile(`\b(legal|law|accounting|finance)\b.*\b(firms?|offices?)\b`),
}

var topicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(artificial intelligence|ai|machine learning|ml)\b.*\b(companies?|research|development)\b`),
	regexp.MustCompile(`\b(renewable energy|solar|wind|green technology)\b`),
	regexp.MustCompile(`\b(fintech|blockchain|cryptocurrency|digital banking)\b`),
}

var domainPattern = regexp.MustCompile(`\b[a-z0-9-]+\.[a-z]{2,}\b`)

// ClassifyTarget guesses the target class from a free-text description.
// Checks run in priority order; an unmatched input falls through to mixed
// intelligence.
func ClassifyTarget(input string) intel.TargetClass {
	lower := strings.ToLower(input)

	for _, p := range peoplePatterns {
		if p.MatchString(lower) {
			return intel.TargetPeopleGroup
		}
	}
	for _, p := range businessPatterns {
		if p.MatchString(lower) {
			return intel.TargetBusinessCategory
		}
	}
	for _, p := range servicePatterns {
		if p.MatchString(lower) {
			return intel.TargetServiceProviders
		}
	}
	for _, p := range topicPatterns {
		if p.MatchString(lower) {
			return intel.TargetTopicResearch
		}
	}
	if domainPattern.MatchString(lower) {
		return intel.TargetDomainEntity
	}
	return intel.TargetMixed
}
