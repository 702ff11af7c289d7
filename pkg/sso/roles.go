package sso

import "github.com/formhive/formhive/pkg/auth"

// RoleMapper converts identity-provider group names into a workspace role
// using the connection's ordered group-role mappings.
type RoleMapper struct{}

// NewRoleMapper creates a new role mapper
func NewRoleMapper() *RoleMapper {
	return &RoleMapper{}
}

// MapGroupsToRole returns the most privileged role mapped from any of the
// user's groups, or "" when no mapping matches (the caller applies its
// default). Matching is exact and case-sensitive; this is a
// most-privileged-group-wins policy, not first-match.
func (m *RoleMapper) MapGroupsToRole(conn *IdentityConnection, groups []string) auth.Role {
	if len(groups) == 0 {
		return ""
	}

	memberOf := make(map[string]bool, len(groups))
	for _, g := range groups {
		memberOf[g] = true
	}

	var best auth.Role
	for _, mapping := range conn.Options.GroupRoleMappings() {
		if !memberOf[mapping.IdpGroup] {
			continue
		}
		if best == "" || mapping.Role.Priority() > best.Priority() {
			best = mapping.Role
		}
	}

	return best
}
