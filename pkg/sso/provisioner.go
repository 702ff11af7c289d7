package sso

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/formhive/formhive/pkg/auth"
	"github.com/formhive/formhive/pkg/observability"
	"github.com/formhive/formhive/pkg/workspaces"
)

// DefaultRole is assigned when no group mapping matches
const DefaultRole = auth.RoleMember

// ProvisionResult is the outcome of a successful provisioning run
type ProvisionResult struct {
	User    *auth.User
	NewUser bool
}

// ProvisioningService turns a verified external identity into a local user
// with correct workspace membership. Find-or-create races between concurrent
// first logins are resolved by the storage uniqueness constraints: a losing
// insert re-enters the identity lookup and finds the winner's row.
type ProvisioningService struct {
	db         *sql.DB
	users      *auth.UserStore
	identities *IdentityStore
	mapper     *ClaimsMapper
	roles      *RoleMapper
	joiner     *DomainJoiner
	workspaces *workspaces.Store
	logger     *observability.Logger
}

// NewProvisioningService creates a new provisioning service
func NewProvisioningService(db *sql.DB, users *auth.UserStore, identities *IdentityStore,
	joiner *DomainJoiner, ws *workspaces.Store, logger *observability.Logger) *ProvisioningService {
	return &ProvisioningService{
		db:         db,
		users:      users,
		identities: identities,
		mapper:     NewClaimsMapper(),
		roles:      NewRoleMapper(),
		joiner:     joiner,
		workspaces: ws,
		logger:     logger,
	}
}

// ProvisionUser validates the token claims, finds or creates the local user
// linked to this external identity, and places the user in a workspace.
// registrationIP is recorded on newly created accounts when available.
func (s *ProvisioningService) ProvisionUser(ctx context.Context, conn *IdentityConnection,
	profile Profile, claims Claims, registrationIP string) (*ProvisionResult, error) {

	// Pure validation first; nothing below runs on a bad token.
	if err := ValidateClaims(conn, claims); err != nil {
		return nil, err
	}

	identity, err := s.mapper.Extract(conn, claims, profile)
	if err != nil {
		return nil, err
	}

	user, newUser, err := s.resolveUser(ctx, conn, identity, claims, registrationIP)
	if err != nil {
		return nil, err
	}

	if user.Blocked() {
		return nil, ErrAccountBlocked
	}

	if err := s.placeInWorkspace(ctx, conn, user, identity); err != nil {
		return nil, err
	}

	observability.SSOLoginsTotal.WithLabelValues(conn.Slug, loginKind(newUser)).Inc()
	s.logger.WithFields(map[string]any{
		"connection": conn.Slug,
		"user_id":    user.ID,
		"new_user":   newUser,
	}).Info("SSO login provisioned")

	return &ProvisionResult{User: user, NewUser: newUser}, nil
}

// resolveUser finds the user owning this external identity, or creates a new
// user plus the identity link. A unique-violation on insert means a
// concurrent login won the race; the lookup is retried once and returns the
// winner's row.
func (s *ProvisioningService) resolveUser(ctx context.Context, conn *IdentityConnection,
	identity *Identity, claims Claims, registrationIP string) (*auth.User, bool, error) {

	for attempt := 0; ; attempt++ {
		link, err := s.identities.GetByConnectionAndSubject(ctx, conn.ID, identity.Subject)
		if err != nil {
			return nil, false, err
		}

		if link != nil {
			user, err := s.users.GetByID(ctx, link.UserID)
			if err != nil {
				return nil, false, fmt.Errorf("failed to load identity owner: %w", err)
			}
			if err := s.identities.RecordLogin(ctx, link.ID, identity.Email, claims); err != nil {
				return nil, false, err
			}
			return user, false, nil
		}

		// New-identity path. Never attach an external identity to an
		// existing account that was not already linked.
		existing, err := s.users.FindByEmail(ctx, identity.Email)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return nil, false, ErrAccountLinkingConflict
		}

		user, err := s.createUserWithIdentity(ctx, conn, identity, claims, registrationIP)
		if err == nil {
			return user, true, nil
		}
		if isUniqueViolation(err) && attempt == 0 {
			s.logger.WithField("connection", conn.Slug).
				Debug("concurrent provisioning detected, retrying identity lookup")
			continue
		}
		return nil, false, err
	}
}

// createUserWithIdentity creates the user record and its identity link in
// one transaction so a workspace-placement failure never strands a user row
// that a retry would duplicate.
func (s *ProvisioningService) createUserWithIdentity(ctx context.Context, conn *IdentityConnection,
	identity *Identity, claims Claims, registrationIP string) (*auth.User, error) {

	password, err := auth.GenerateUnusablePassword()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &auth.User{
		Email:           identity.Email,
		Name:            identity.Name,
		PasswordHash:    password,
		EmailVerifiedAt: &now,
		Meta: map[string]string{
			auth.MetaSignupProvider:       fmt.Sprintf("%s:%s", conn.Type, conn.Slug),
			auth.MetaSignupProviderUserID: identity.Subject,
		},
	}
	if registrationIP != "" {
		user.Meta[auth.MetaRegistrationIP] = registrationIP
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.users.CreateTx(ctx, tx, user); err != nil {
		return nil, err
	}

	link := &UserIdentity{
		UserID:       user.ID,
		ConnectionID: conn.ID,
		Subject:      identity.Subject,
		Email:        identity.Email,
		Claims:       claims,
	}
	if err := s.identities.CreateTx(ctx, tx, link); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return user, nil
}

// placeInWorkspace establishes or updates the user's workspace membership.
// Workspace-scoped connections map groups to a role; global connections join
// by email domain as plain members. Role elevation on global connections is
// an administrative action.
func (s *ProvisioningService) placeInWorkspace(ctx context.Context, conn *IdentityConnection,
	user *auth.User, identity *Identity) error {

	if conn.WorkspaceID != nil {
		role := s.roles.MapGroupsToRole(conn, identity.Groups)
		if role == "" {
			role = DefaultRole
		}
		return s.workspaces.EnsureMembership(ctx, *conn.WorkspaceID, user.ID, role)
	}

	ws, err := s.joiner.FindWorkspaceForDomain(ctx, identity.Email)
	if err != nil {
		return err
	}
	if ws == nil {
		// Provisioned without a workspace; joining one comes later.
		return nil
	}
	return s.joiner.EnsureWorkspaceMembership(ctx, user, ws.ID, DefaultRole)
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func loginKind(newUser bool) string {
	if newUser {
		return "signup"
	}
	return "login"
}
