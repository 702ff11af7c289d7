package auth

import "time"

// User represents a local account. SSO-only accounts carry a random,
// unusable password hash and a set email_verified_at.
type User struct {
	ID              int64             `json:"id"`
	Email           string            `json:"email"`
	Name            string            `json:"name,omitempty"`
	PasswordHash    string            `json:"-"` // never expose
	EmailVerifiedAt *time.Time        `json:"email_verified_at,omitempty"`
	BlockedAt       *time.Time        `json:"blocked_at,omitempty"`
	Meta            map[string]string `json:"meta,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Blocked reports whether login must be refused for this user.
func (u *User) Blocked() bool {
	return u != nil && u.BlockedAt != nil
}

// Meta keys recorded at signup time.
const (
	MetaSignupProvider       = "signup_provider"
	MetaSignupProviderUserID = "signup_provider_user_id"
	MetaRegistrationIP       = "registration_ip"
)

// Role represents a workspace-level role.
type Role string

const (
	RoleMember Role = "member" // Can view and submit forms
	RoleEditor Role = "editor" // Can create and edit forms
	RoleAdmin  Role = "admin"  // Can manage workspace settings and members
	RoleOwner  Role = "owner"  // Full control over the workspace
)

// rolePriority is the fixed privilege order used when multiple group
// mappings match: member < editor < admin < owner.
var rolePriority = map[Role]int{
	RoleMember: 0,
	RoleEditor: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// Priority returns the privilege rank of a role. Unknown roles rank below
// member so they never win a most-privileged comparison.
func (r Role) Priority() int {
	if p, ok := rolePriority[r]; ok {
		return p
	}
	return -1
}

// Valid reports whether the role is one of the known workspace roles.
func (r Role) Valid() bool {
	_, ok := rolePriority[r]
	return ok
}

// Session represents an issued login session backing a bearer token.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	TokenHash string    `json:"-"` // never expose hash
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
