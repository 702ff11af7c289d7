package sso

import (
	"context"
	"fmt"

	"github.com/formhive/formhive/pkg/auth"
	"github.com/formhive/formhive/pkg/workspaces"
)

// DomainJoiner places users authenticated through globally-scoped
// connections into the workspace that claims their email domain.
type DomainJoiner struct {
	workspaces *workspaces.Store
}

// NewDomainJoiner creates a new domain joiner
func NewDomainJoiner(ws *workspaces.Store) *DomainJoiner {
	return &DomainJoiner{workspaces: ws}
}

// FindWorkspaceForDomain returns the workspace whose configured
// allowed-email-domain matches the email's domain, or nil when none does.
func (j *DomainJoiner) FindWorkspaceForDomain(ctx context.Context, email string) (*workspaces.Workspace, error) {
	domain := ExtractDomain(email)
	if domain == "" {
		return nil, nil
	}

	ws, err := j.workspaces.FindByAllowedDomain(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to look up workspace for domain: %w", err)
	}
	return ws, nil
}

// EnsureWorkspaceMembership creates or updates the user's membership row
// for the workspace with the given role. Idempotent: never duplicates the
// row, never removes the user's other memberships.
func (j *DomainJoiner) EnsureWorkspaceMembership(ctx context.Context, user *auth.User, workspaceID int64, role auth.Role) error {
	return j.workspaces.EnsureMembership(ctx, workspaceID, user.ID, role)
}
