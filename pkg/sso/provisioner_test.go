package sso

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formhive/formhive/pkg/auth"
	"github.com/formhive/formhive/pkg/observability"
	"github.com/formhive/formhive/pkg/workspaces"
)

func newTestProvisioner(t *testing.T) (*ProvisioningService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	ws := workspaces.NewStore(db)
	svc := NewProvisioningService(db,
		auth.NewUserStore(db),
		NewIdentityStore(db),
		NewDomainJoiner(ws),
		ws,
		observability.NewLogger(observability.ErrorLevel, nil))
	return svc, mock, db
}

func provisionClaims(conn *IdentityConnection, sub, email string) Claims {
	return Claims{
		"iss":   conn.Issuer,
		"aud":   conn.ClientID,
		"sub":   sub,
		"email": email,
		"exp":   float64(time.Now().Add(time.Hour).Unix()),
	}
}

func workspaceScopedConn(workspaceID int64) *IdentityConnection {
	return &IdentityConnection{
		ID:          7,
		Slug:        "acme",
		WorkspaceID: &workspaceID,
		Issuer:      "https://idp.acme.com",
		ClientID:    "client-1",
		Enabled:     true,
		Type:        ConnectionTypeOIDC,
	}
}

func globalConn() *IdentityConnection {
	return &IdentityConnection{
		ID:       7,
		Slug:     "acme",
		Issuer:   "https://idp.acme.com",
		ClientID: "client-1",
		Enabled:  true,
		Type:     ConnectionTypeOIDC,
	}
}

func identityRow(id, userID, connID int64, sub, email string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "user_id", "connection_id", "subject", "email", "claims", "created_at", "updated_at",
	}).AddRow(id, userID, connID, sub, email, []byte(`{}`), now, now)
}

func userRow(id int64, email string, blockedAt *time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "email", "name", "password", "email_verified_at", "blocked_at", "meta", "created_at", "updated_at",
	}).AddRow(id, email, "Alice", "!unusable", &now, blockedAt, []byte(`{}`), now, now)
}

func TestProvisionExistingIdentity(t *testing.T) {
	svc, mock, db := newTestProvisioner(t)
	defer db.Close()

	workspaceID := int64(3)
	conn := workspaceScopedConn(workspaceID)
	conn.Options = Options{OptionGroupRoleMappings: []any{
		map[string]any{"idp_group": "admins", "role": "admin"},
	}}
	claims := provisionClaims(conn, "sub-1", "alice@acme.com")
	claims["groups"] = []any{"admins"}

	mock.ExpectQuery("FROM user_identities").
		WithArgs(conn.ID, "sub-1").
		WillReturnRows(identityRow(1, 10, conn.ID, "sub-1", "old@acme.com"))
	mock.ExpectQuery("FROM users WHERE id").
		WithArgs(int64(10)).
		WillReturnRows(userRow(10, "alice@acme.com", nil))
	mock.ExpectExec("UPDATE user_identities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO workspace_members").
		WithArgs(workspaceID, int64(10), auth.RoleAdmin).
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := svc.ProvisionUser(context.Background(), conn, nil, claims, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.User.ID)
	assert.False(t, result.NewUser)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionAntiHijack(t *testing.T) {
	svc, mock, db := newTestProvisioner(t)
	defer db.Close()

	conn := globalConn()
	claims := provisionClaims(conn, "sub-1", "alice@acme.com")

	mock.ExpectQuery("FROM user_identities").
		WithArgs(conn.ID, "sub-1").
		WillReturnError(sql.ErrNoRows)
	// A user with this email already exists without a link to this
	// connection: provisioning must stop without touching anything.
	mock.ExpectQuery("FROM users WHERE email").
		WithArgs("alice@acme.com").
		WillReturnRows(userRow(10, "alice@acme.com", nil))

	_, err := svc.ProvisionUser(context.Background(), conn, nil, claims, "")
	assert.ErrorIs(t, err, ErrAccountLinkingConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionBlockedUser(t *testing.T) {
	svc, mock, db := newTestProvisioner(t)
	defer db.Close()

	conn := globalConn()
	claims := provisionClaims(conn, "sub-1", "alice@acme.com")
	blockedAt := time.Now().Add(-time.Hour)

	mock.ExpectQuery("FROM user_identities").
		WithArgs(conn.ID, "sub-1").
		WillReturnRows(identityRow(1, 10, conn.ID, "sub-1", "alice@acme.com"))
	mock.ExpectQuery("FROM users WHERE id").
		WithArgs(int64(10)).
		WillReturnRows(userRow(10, "alice@acme.com", &blockedAt))
	mock.ExpectExec("UPDATE user_identities").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := svc.ProvisionUser(context.Background(), conn, nil, claims, "")
	assert.ErrorIs(t, err, ErrAccountBlocked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionNewUserJoinsDomainWorkspace(t *testing.T) {
	svc, mock, db := newTestProvisioner(t)
	defer db.Close()

	conn := globalConn()
	claims := provisionClaims(conn, "sub-new", "alice@acme.com")
	now := time.Now()

	mock.ExpectQuery("FROM user_identities").
		WithArgs(conn.ID, "sub-new").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM users WHERE email").
		WithArgs("alice@acme.com").
		WillReturnError(sql.ErrNoRows)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(42, now, now))
	mock.ExpectQuery("INSERT INTO user_identities").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(9, now, now))
	mock.ExpectCommit()

	mock.ExpectQuery("FROM workspaces").
		WithArgs("acme.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "settings", "created_at", "updated_at"}).
			AddRow(5, "Acme", []byte(`{"oidc":{"allowed_domain":"acme.com"}}`), now, now))
	mock.ExpectExec("INSERT INTO workspace_members").
		WithArgs(int64(5), int64(42), auth.RoleMember).
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := svc.ProvisionUser(context.Background(), conn, nil, claims, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.User.ID)
	assert.True(t, result.NewUser)
	assert.NotNil(t, result.User.EmailVerifiedAt)
	assert.Equal(t, "oidc:acme", result.User.Meta[auth.MetaSignupProvider])
	assert.Equal(t, "sub-new", result.User.Meta[auth.MetaSignupProviderUserID])
	assert.Equal(t, "203.0.113.9", result.User.Meta[auth.MetaRegistrationIP])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionNewUserNoMatchingDomain(t *testing.T) {
	svc, mock, db := newTestProvisioner(t)
	defer db.Close()

	conn := globalConn()
	claims := provisionClaims(conn, "sub-new", "alice@nowhere.example")
	now := time.Now()

	mock.ExpectQuery("FROM user_identities").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM users WHERE email").WillReturnError(sql.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(42, now, now))
	mock.ExpectQuery("INSERT INTO user_identities").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(9, now, now))
	mock.ExpectCommit()
	mock.ExpectQuery("FROM workspaces").WillReturnError(sql.ErrNoRows)

	// No workspace claims the domain: the user is provisioned anyway.
	result, err := svc.ProvisionUser(context.Background(), conn, nil, claims, "")
	require.NoError(t, err)
	assert.True(t, result.NewUser)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionConcurrentFirstLoginRetries(t *testing.T) {
	svc, mock, db := newTestProvisioner(t)
	defer db.Close()

	conn := globalConn()
	claims := provisionClaims(conn, "sub-1", "alice@nowhere.example")

	// First pass: identity absent, insert loses the race.
	mock.ExpectQuery("FROM user_identities").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM users WHERE email").WillReturnError(sql.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	// Retry finds the winner's identity row.
	mock.ExpectQuery("FROM user_identities").
		WillReturnRows(identityRow(1, 10, conn.ID, "sub-1", "alice@nowhere.example"))
	mock.ExpectQuery("FROM users WHERE id").
		WillReturnRows(userRow(10, "alice@nowhere.example", nil))
	mock.ExpectExec("UPDATE user_identities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM workspaces").WillReturnError(sql.ErrNoRows)

	result, err := svc.ProvisionUser(context.Background(), conn, nil, claims, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.User.ID)
	assert.False(t, result.NewUser)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionValidatesClaimsFirst(t *testing.T) {
	svc, mock, db := newTestProvisioner(t)
	defer db.Close()

	conn := globalConn()

	tests := []struct {
		name    string
		mutate  func(Claims)
		wantErr error
	}{
		{"wrong issuer", func(c Claims) { c["iss"] = "https://evil.example" }, ErrInvalidIssuer},
		{"wrong audience", func(c Claims) { c["aud"] = "other" }, ErrInvalidAudience},
		{"expired", func(c Claims) { c["exp"] = float64(time.Now().Add(-time.Minute).Unix()) }, ErrTokenExpired},
		{"no subject", func(c Claims) { delete(c, "sub") }, ErrMissingSubject},
		{"no email", func(c Claims) { delete(c, "email") }, ErrEmailRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := provisionClaims(conn, "sub-1", "alice@acme.com")
			tt.mutate(claims)

			_, err := svc.ProvisionUser(context.Background(), conn, nil, claims, "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Validation failures never touch storage.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionDefaultRoleWhenNoMappingMatches(t *testing.T) {
	svc, mock, db := newTestProvisioner(t)
	defer db.Close()

	workspaceID := int64(3)
	conn := workspaceScopedConn(workspaceID)
	claims := provisionClaims(conn, "sub-1", "alice@acme.com")

	mock.ExpectQuery("FROM user_identities").
		WillReturnRows(identityRow(1, 10, conn.ID, "sub-1", "alice@acme.com"))
	mock.ExpectQuery("FROM users WHERE id").
		WillReturnRows(userRow(10, "alice@acme.com", nil))
	mock.ExpectExec("UPDATE user_identities").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO workspace_members").
		WithArgs(workspaceID, int64(10), auth.RoleMember).
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := svc.ProvisionUser(context.Background(), conn, nil, claims, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.User.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
