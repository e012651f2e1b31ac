// Package profile maps trigger references to environment tiers.
package profile

import (
	"fmt"
	"os"

	"github.com/harborline/harborline/internal/pipeline/model"
	"gopkg.in/yaml.v3"
)

// Resolver holds the static trigger-reference table. The mapping is total on
// known inputs; anything else fails closed, so an unknown ref never deploys.
type Resolver struct {
	byRef  map[string]*model.EnvironmentProfile
	byTier map[model.Tier]*model.EnvironmentProfile
}

type profilesFile struct {
	Profiles []model.EnvironmentProfile `yaml:"profiles"`
}

// LoadProfiles reads the tier table from a YAML file.
func LoadProfiles(path string) ([]model.EnvironmentProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file %s: %w", path, err)
	}
	var f profilesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file %s: %w", path, err)
	}
	return f.Profiles, nil
}

// NewResolver indexes the given profiles. Duplicate trigger refs or unknown
// tier names are configuration errors.
func NewResolver(profiles []model.EnvironmentProfile) (*Resolver, error) {
	r := &Resolver{
		byRef:  make(map[string]*model.EnvironmentProfile),
		byTier: make(map[model.Tier]*model.EnvironmentProfile),
	}
	for i := range profiles {
		p := &profiles[i]
		if !p.Tier.Valid() {
			return nil, fmt.Errorf("unknown tier %q in profile table", p.Tier)
		}
		if _, dup := r.byTier[p.Tier]; dup {
			return nil, fmt.Errorf("duplicate profile for tier %q", p.Tier)
		}
		r.byTier[p.Tier] = p
		for _, ref := range p.TriggerRefs {
			if prev, dup := r.byRef[ref]; dup {
				return nil, fmt.Errorf("ref %q mapped to both %q and %q", ref, prev.Tier, p.Tier)
			}
			r.byRef[ref] = p
		}
	}
	return r, nil
}

// Resolve maps a trigger reference to its tier profile.
func (r *Resolver) Resolve(ref string) (*model.EnvironmentProfile, error) {
	p, ok := r.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("ref %q: %w", ref, model.ErrNoMatchingProfile)
	}
	return p, nil
}

// ByTier looks a profile up by tier name, for rollbacks that start from an
// environment instead of a trigger reference.
func (r *Resolver) ByTier(tier model.Tier) (*model.EnvironmentProfile, error) {
	p, ok := r.byTier[tier]
	if !ok {
		return nil, fmt.Errorf("tier %q: %w", tier, model.ErrNoMatchingProfile)
	}
	return p, nil
}
