package workspaces

import (
	"time"

	"github.com/formhive/formhive/pkg/auth"
)

// Workspace represents a tenant workspace
type Workspace struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Settings  WorkspaceSettings `json:"settings"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// WorkspaceSettings holds per-workspace configuration
type WorkspaceSettings struct {
	OIDC OIDCSettings `json:"oidc"`
}

// OIDCSettings holds workspace SSO settings
type OIDCSettings struct {
	// AllowedDomain auto-joins users whose email domain matches when they
	// sign in through a globally-scoped connection.
	AllowedDomain string `json:"allowed_domain,omitempty"`
}

// Membership represents a user's role within a workspace
type Membership struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	UserID      int64     `json:"user_id"`
	Role        auth.Role `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
