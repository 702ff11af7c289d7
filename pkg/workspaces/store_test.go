package workspaces

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formhive/formhive/pkg/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewStore(db), mock, db
}

func TestFindByAllowedDomain(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	t.Run("found", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("FROM workspaces").
			WithArgs("acme.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "settings", "created_at", "updated_at"}).
				AddRow(5, "Acme", []byte(`{"oidc":{"allowed_domain":"acme.com"}}`), now, now))

		ws, err := store.FindByAllowedDomain(context.Background(), "acme.com")
		require.NoError(t, err)
		require.NotNil(t, ws)
		assert.Equal(t, "acme.com", ws.Settings.OIDC.AllowedDomain)
	})

	t.Run("not found is nil, not an error", func(t *testing.T) {
		mock.ExpectQuery("FROM workspaces").
			WithArgs("nowhere.example").
			WillReturnError(sql.ErrNoRows)

		ws, err := store.FindByAllowedDomain(context.Background(), "nowhere.example")
		require.NoError(t, err)
		assert.Nil(t, ws)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureMembership(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	// Upsert keeps the call idempotent: one row per (workspace, user),
	// role updated in place.
	mock.ExpectExec("INSERT INTO workspace_members").
		WithArgs(int64(5), int64(10), auth.RoleEditor).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.EnsureMembership(context.Background(), 5, 10, auth.RoleEditor))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMembership(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("FROM workspace_members").
		WithArgs(int64(5), int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "user_id", "role", "created_at", "updated_at"}).
			AddRow(1, 5, 10, "admin", now, now))

	m, err := store.GetMembership(context.Background(), 5, 10)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, m.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}
