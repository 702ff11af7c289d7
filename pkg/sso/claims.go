package sso

import "strings"

// Logical identity fields resolvable through field mappings
const (
	FieldEmail  = "email"
	FieldName   = "name"
	FieldGroups = "groups"
)

// ClaimsMapper extracts normalized identity attributes from raw claims,
// honoring per-connection field-mapping overrides and falling back to the
// standard claim names and the provider profile.
type ClaimsMapper struct{}

// NewClaimsMapper creates a new claims mapper
func NewClaimsMapper() *ClaimsMapper {
	return &ClaimsMapper{}
}

// Extract resolves email, display name and groups for a verified login.
// Email is mandatory; ErrEmailRequired is returned when no candidate field
// yields a non-empty value. Groups default to empty.
func (m *ClaimsMapper) Extract(conn *IdentityConnection, claims Claims, profile Profile) (*Identity, error) {
	email := m.stringField(conn, FieldEmail, claims, profile)
	if email == "" {
		return nil, ErrEmailRequired
	}
	email = strings.ToLower(email)

	identity := &Identity{
		Subject: claims.String("sub"),
		Email:   email,
		Name:    m.resolveName(conn, claims, profile, email),
		Groups:  m.resolveGroups(conn, claims, profile),
	}

	return identity, nil
}

// stringField reads a logical field: mapped claim name first, then the
// conventional claim name, then the provider profile.
func (m *ClaimsMapper) stringField(conn *IdentityConnection, field string, claims Claims, profile Profile) string {
	if mapped := conn.Options.FieldMapping(field); mapped != "" {
		if v := claims.String(mapped); v != "" {
			return v
		}
	}
	if v := claims.String(field); v != "" {
		return v
	}
	return profile.String(field)
}

// resolveName walks the name fallback chain; the first non-empty candidate
// wins: mapped/standard name, display_name, given+family, preferred
// username, provider profile, then the local part of the email.
func (m *ClaimsMapper) resolveName(conn *IdentityConnection, claims Claims, profile Profile, email string) string {
	if mapped := conn.Options.FieldMapping(FieldName); mapped != "" {
		if v := strings.TrimSpace(claims.String(mapped)); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(claims.String("name")); v != "" {
		return v
	}
	if v := strings.TrimSpace(claims.String("display_name")); v != "" {
		return v
	}

	given := strings.TrimSpace(claims.String("given_name"))
	family := strings.TrimSpace(claims.String("family_name"))
	if full := strings.TrimSpace(given + " " + family); full != "" {
		return full
	}

	if v := strings.TrimSpace(claims.String("preferred_username")); v != "" {
		return v
	}
	if v := strings.TrimSpace(profile.String("name")); v != "" {
		return v
	}

	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

// resolveGroups reads the group list: mapped claim first, then the
// conventional claim, then the profile. Absent means empty, not an error.
func (m *ClaimsMapper) resolveGroups(conn *IdentityConnection, claims Claims, profile Profile) []string {
	if mapped := conn.Options.FieldMapping(FieldGroups); mapped != "" {
		if groups := claims.StringSlice(mapped); len(groups) > 0 {
			return groups
		}
	}
	if groups := claims.StringSlice(FieldGroups); len(groups) > 0 {
		return groups
	}
	return profile.StringSlice(FieldGroups)
}
