package workspaces

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/formhive/formhive/pkg/auth"
)

// Store handles workspace and membership persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new workspace store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetByID retrieves a workspace by ID
func (s *Store) GetByID(ctx context.Context, id int64) (*Workspace, error) {
	ws := &Workspace{}
	var settingsJSON []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, settings, created_at, updated_at
		FROM workspaces WHERE id = $1
	`, id).Scan(&ws.ID, &ws.Name, &settingsJSON, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workspace not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &ws.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workspace settings: %w", err)
		}
	}

	return ws, nil
}

// FindByAllowedDomain retrieves the workspace whose SSO settings allow the
// given email domain. Returns (nil, nil) when no workspace matches.
func (s *Store) FindByAllowedDomain(ctx context.Context, domain string) (*Workspace, error) {
	ws := &Workspace{}
	var settingsJSON []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, settings, created_at, updated_at
		FROM workspaces
		WHERE settings->'oidc'->>'allowed_domain' = $1
		ORDER BY id ASC
		LIMIT 1
	`, domain).Scan(&ws.ID, &ws.Name, &settingsJSON, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find workspace by domain: %w", err)
	}

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &ws.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workspace settings: %w", err)
		}
	}

	return ws, nil
}

// EnsureMembership creates a membership row with the given role, or updates
// the role of an existing one. It never creates duplicate rows and never
// touches the user's other memberships.
func (s *Store) EnsureMembership(ctx context.Context, workspaceID, userID int64, role auth.Role) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = $3, updated_at = NOW()
	`, workspaceID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to ensure workspace membership: %w", err)
	}
	return nil
}

// GetMembership retrieves a user's membership in a workspace
func (s *Store) GetMembership(ctx context.Context, workspaceID, userID int64) (*Membership, error) {
	m := &Membership{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, role, created_at, updated_at
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID).Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("membership not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}
