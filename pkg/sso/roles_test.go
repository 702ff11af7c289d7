package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/formhive/formhive/pkg/auth"
)

func connWithMappings(mappings ...map[string]any) *IdentityConnection {
	entries := make([]any, len(mappings))
	for i, m := range mappings {
		entries[i] = m
	}
	return &IdentityConnection{Options: Options{OptionGroupRoleMappings: entries}}
}

func TestMapGroupsToRoleMostPrivilegedWins(t *testing.T) {
	mapper := NewRoleMapper()
	conn := connWithMappings(
		map[string]any{"idp_group": "g1", "role": "member"},
		map[string]any{"idp_group": "g2", "role": "admin"},
		map[string]any{"idp_group": "g3", "role": "editor"},
	)

	role := mapper.MapGroupsToRole(conn, []string{"g1", "g2", "g3"})
	assert.Equal(t, auth.RoleAdmin, role)
}

func TestMapGroupsToRoleNoMatch(t *testing.T) {
	mapper := NewRoleMapper()
	conn := connWithMappings(map[string]any{"idp_group": "g1", "role": "admin"})

	assert.Equal(t, auth.Role(""), mapper.MapGroupsToRole(conn, []string{"other"}))
	assert.Equal(t, auth.Role(""), mapper.MapGroupsToRole(conn, nil))
}

func TestMapGroupsToRoleCaseSensitive(t *testing.T) {
	mapper := NewRoleMapper()
	conn := connWithMappings(map[string]any{"idp_group": "Admins", "role": "admin"})

	assert.Equal(t, auth.Role(""), mapper.MapGroupsToRole(conn, []string{"admins"}))
	assert.Equal(t, auth.RoleAdmin, mapper.MapGroupsToRole(conn, []string{"Admins"}))
}

func TestMapGroupsToRoleSkipsIncompleteMappings(t *testing.T) {
	mapper := NewRoleMapper()
	conn := connWithMappings(
		map[string]any{"idp_group": "g1"},
		map[string]any{"role": "owner"},
		map[string]any{"idp_group": "g1", "role": "editor"},
	)

	assert.Equal(t, auth.RoleEditor, mapper.MapGroupsToRole(conn, []string{"g1"}))
}

func TestMapGroupsToRoleOwnerOutranksAll(t *testing.T) {
	mapper := NewRoleMapper()
	conn := connWithMappings(
		map[string]any{"idp_group": "admins", "role": "admin"},
		map[string]any{"idp_group": "founders", "role": "owner"},
		map[string]any{"idp_group": "staff", "role": "member"},
	)

	role := mapper.MapGroupsToRole(conn, []string{"staff", "founders", "admins"})
	assert.Equal(t, auth.RoleOwner, role)
}
