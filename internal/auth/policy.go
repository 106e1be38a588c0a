package auth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/labbooking/server/internal/model"
)

// AccessPolicy is the role to platform allow-list. It is built once at startup
// and never mutated.
type AccessPolicy struct {
	allowed map[model.Role]map[model.Platform]struct{}
}

// NewAccessPolicy builds a policy from an explicit table
func NewAccessPolicy(table map[model.Role][]model.Platform) *AccessPolicy {
	p := &AccessPolicy{allowed: make(map[model.Role]map[model.Platform]struct{}, len(table))}
	for role, platforms := range table {
		set := make(map[model.Platform]struct{}, len(platforms))
		for _, pl := range platforms {
			set[pl] = struct{}{}
		}
		p.allowed[role] = set
	}
	return p
}

// DefaultAccessPolicy lets users into the user app and admins everywhere
func DefaultAccessPolicy() *AccessPolicy {
	return NewAccessPolicy(map[model.Role][]model.Platform{
		model.RoleUser:  {model.PlatformUserApp},
		model.RoleAdmin: {model.PlatformUserApp, model.PlatformAdmin},
	})
}

// Allows reports whether the role may authenticate against the platform
func (p *AccessPolicy) Allows(role model.Role, platform model.Platform) bool {
	_, ok := p.allowed[role][platform]
	return ok
}

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// ParseAccessPolicy reads a policy document of the form
//
//	roles:
//	  user: [userapp]
//	  admin: [userapp, admin]
func ParseAccessPolicy(data []byte) (*AccessPolicy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse access policy: %w", err)
	}
	if len(f.Roles) == 0 {
		return nil, fmt.Errorf("access policy defines no roles")
	}
	table := make(map[model.Role][]model.Platform, len(f.Roles))
	for roleName, platformNames := range f.Roles {
		role, ok := model.ParseRole(roleName)
		if !ok {
			return nil, fmt.Errorf("access policy: unknown role %q", roleName)
		}
		for _, name := range platformNames {
			pl, ok := model.ParsePlatform(name)
			if !ok {
				return nil, fmt.Errorf("access policy: unknown platform %q for role %s", name, roleName)
			}
			table[role] = append(table[role], pl)
		}
	}
	return NewAccessPolicy(table), nil
}

// LoadAccessPolicy reads the policy from path, or returns the default when path is empty
func LoadAccessPolicy(path string) (*AccessPolicy, error) {
	if path == "" {
		return DefaultAccessPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read access policy: %w", err)
	}
	return ParseAccessPolicy(data)
}
