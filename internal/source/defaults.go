package source

import "github.com/lvonguyen/intelforge/internal/intel"

// DefaultDefinitions returns the built-in source catalog used when no catalog
// file is configured. Field mappings mirror what each upstream API actually
// returns; anything outside them survives in raw_context.
func DefaultDefinitions() []*SourceDefinition {
	return []*SourceDefinition{
		{
			ID:            "websearch",
			Tier:          2,
			Priority:      10,
			RatePerMinute: 30,
			Burst:         5,
			RequiresProxy: false,
			EntityTypes: []intel.EntityType{
				intel.EntityBusiness, intel.EntityPerson, intel.EntityDomain,
				intel.EntityContactEmail, intel.EntityContactPhone,
			},
			TargetClasses: nil, // applies to everything
			BaseURL:       "https://api.websearch.example.com/v1",
			APIKeyEnv:     "WEBSEARCH_API_KEY",
			Mapping: map[string]string{
				"title":  string(intel.EntityBusiness),
				"domain": string(intel.EntityDomain),
				"email":  string(intel.EntityContactEmail),
				"phone":  string(intel.EntityContactPhone),
			},
			Context: []string{"snippet", "url", "rank"},
		},
		{
			ID:            "bizdir",
			Tier:          1,
			Priority:      9,
			RatePerMinute: 60,
			Burst:         10,
			RequiresProxy: false,
			EntityTypes: []intel.EntityType{
				intel.EntityBusiness, intel.EntityContactEmail,
				intel.EntityContactPhone, intel.EntityDomain,
			},
			TargetClasses: []intel.TargetClass{
				intel.TargetBusinessCategory, intel.TargetServiceProviders,
				intel.TargetDomainEntity, intel.TargetMixed,
			},
			BaseURL:   "https://api.bizdir.example.com/v2",
			APIKeyEnv: "BIZDIR_API_KEY",
			Mapping: map[string]string{
				"name":    string(intel.EntityBusiness),
				"email":   string(intel.EntityContactEmail),
				"phone":   string(intel.EntityContactPhone),
				"website": string(intel.EntityDomain),
			},
			Context: []string{"address", "category", "rating"},
		},
		{
			ID:            "socialgraph",
			Tier:          3,
			Priority:      8,
			RatePerMinute: 20,
			Burst:         3,
			RequiresProxy: true,
			EntityTypes: []intel.EntityType{
				intel.EntityPerson, intel.EntitySocialProfile,
				intel.EntityContactEmail, intel.EntityContactPhone,
				intel.EntityBusiness,
			},
			TargetClasses: []intel.TargetClass{
				intel.TargetPeopleGroup, intel.TargetProfessionalCategory,
				intel.TargetPersonIndividual, intel.TargetBusinessCategory,
				intel.TargetMixed,
			},
			BaseURL:   "https://api.socialgraph.example.com/v1",
			APIKeyEnv: "SOCIALGRAPH_API_KEY",
			Mapping: map[string]string{
				"display_name": string(intel.EntityPerson),
				"profile_url":  string(intel.EntitySocialProfile),
				"email":        string(intel.EntityContactEmail),
				"phone":        string(intel.EntityContactPhone),
				"employer":     string(intel.EntityBusiness),
			},
			Context: []string{"bio", "location", "followers"},
		},
	}
}
