package sso

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/formhive/formhive/pkg/auth"
)

// ConnectionType represents the identity-provider protocol
type ConnectionType string

const (
	// ConnectionTypeOIDC is the only supported type today
	ConnectionTypeOIDC ConnectionType = "oidc"
	// ConnectionTypeSAML is reserved; creation is rejected
	ConnectionTypeSAML ConnectionType = "saml"
)

// Option keys understood inside IdentityConnection.Options.
const (
	OptionFieldMappings     = "field_mappings"
	OptionGroupRoleMappings = "group_role_mappings"
	OptionJWKSURI           = "jwks_uri"
)

// IdentityConnection represents one configured identity-provider integration.
// A nil WorkspaceID makes the connection global (shared across all tenants);
// a non-nil one scopes it to a single workspace.
type IdentityConnection struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Slug         string         `json:"slug"`
	WorkspaceID  *int64         `json:"workspace_id,omitempty"`
	Domain       string         `json:"domain"`
	Issuer       string         `json:"issuer"`
	ClientID     string         `json:"client_id"`
	ClientSecret string         `json:"-"` // never expose secret in JSON
	Scopes       []string       `json:"scopes,omitempty"`
	RedirectPath string         `json:"redirect_path,omitempty"`
	Enabled      bool           `json:"enabled"`
	Type         ConnectionType `json:"type"`
	Options      Options        `json:"options,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Options is the free-form per-connection configuration map. Well-known keys
// are read through the typed accessors below; unknown keys pass through
// storage untouched.
type Options map[string]any

// GroupRoleMapping maps one identity-provider group to a workspace role
type GroupRoleMapping struct {
	IdpGroup string    `json:"idp_group"`
	Role     auth.Role `json:"role"`
}

// FieldMapping returns the claim-name override for a logical field
// (e.g. "email"), or "" when none is configured.
func (o Options) FieldMapping(field string) string {
	raw, ok := o[OptionFieldMappings]
	if !ok {
		return ""
	}
	mappings, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	if v, ok := mappings[field].(string); ok {
		return v
	}
	return ""
}

// GroupRoleMappings returns the ordered group-to-role mapping list.
// Entries missing either key are skipped, not an error.
func (o Options) GroupRoleMappings() []GroupRoleMapping {
	raw, ok := o[OptionGroupRoleMappings]
	if !ok {
		return nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil
	}

	var mappings []GroupRoleMapping
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		group, _ := m["idp_group"].(string)
		role, _ := m["role"].(string)
		if group == "" || role == "" {
			continue
		}
		mappings = append(mappings, GroupRoleMapping{IdpGroup: group, Role: auth.Role(role)})
	}
	return mappings
}

// JWKSURI returns the explicit key-set URL override, or "" to use discovery.
func (o Options) JWKSURI() string {
	if v, ok := o[OptionJWKSURI].(string); ok {
		return v
	}
	return ""
}

// Merge applies incoming option keys over the existing map at the top level.
// Existing keys absent from the update are preserved.
func (o Options) Merge(incoming Options) Options {
	merged := Options{}
	for k, v := range o {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// UserIdentity is the durable link between a local user and one external
// identity. (connection_id, subject) is unique: one external identity maps
// to exactly one local user, and it is never silently re-pointed.
type UserIdentity struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	ConnectionID int64     `json:"connection_id"`
	Subject      string    `json:"subject"`
	Email        string    `json:"email"`
	Claims       Claims    `json:"claims,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Claims is a decoded ID-token payload. Values keep their JSON shapes
// (string, float64, bool, []any, nil); the typed accessors make the
// mapper's fallback chases exhaustive.
type Claims map[string]any

// String returns the claim as a string, or "" when absent or another type.
func (c Claims) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// StringSlice returns the claim as a list of strings. A single string value
// becomes a one-element list; non-string elements are dropped.
func (c Claims) StringSlice(key string) []string {
	switch v := c[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Time returns a numeric-date claim (e.g. exp, iat) as a time.Time.
// The zero time is returned when the claim is absent or not numeric.
func (c Claims) Time(key string) time.Time {
	switch v := c[key].(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Unix(n, 0)
		}
	}
	return time.Time{}
}

// Has reports whether the claim is present (even if null)
func (c Claims) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Profile is the provider-native user profile returned alongside the ID
// token by the OAuth2 exchange. It supplements claims during extraction.
type Profile map[string]any

// String returns the profile field as a string, or ""
func (p Profile) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// StringSlice returns the profile field as a list of strings
func (p Profile) StringSlice(key string) []string {
	return Claims(p).StringSlice(key)
}

// Identity holds the normalized attributes extracted from a verified login
type Identity struct {
	Subject string   `json:"subject"`
	Email   string   `json:"email"`
	Name    string   `json:"name,omitempty"`
	Groups  []string `json:"groups,omitempty"`
}

// ExtractDomain returns the lowercased domain portion of an email address,
// or "" unless splitting on "@" yields exactly two parts. An empty local
// part ("@example.com") still yields a domain; address well-formedness is
// validated elsewhere.
func ExtractDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[1] == "" {
		return ""
	}
	return strings.ToLower(parts[1])
}
