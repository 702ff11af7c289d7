package auth

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sm := NewSessionManager(db)

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	session, token, err := sm.IssueSession(context.Background(), 10)
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, int64(10), session.UserID)
	assert.Equal(t, sm.generator.HashToken(token), session.TokenHash)
	assert.WithinDuration(t, time.Now().Add(DefaultSessionTTL), session.ExpiresAt, time.Minute)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionByToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sm := NewSessionManager(db)

	t.Run("rejects malformed tokens without a query", func(t *testing.T) {
		_, err := sm.GetSessionByToken(context.Background(), "not-a-token")
		assert.Error(t, err)
	})

	t.Run("resolves a stored token", func(t *testing.T) {
		token, tokenHash, err := sm.generator.GenerateToken()
		require.NoError(t, err)

		now := time.Now()
		mock.ExpectQuery("FROM sessions").
			WithArgs(tokenHash).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "created_at", "expires_at"}).
				AddRow("sess-1", 10, tokenHash, now, now.Add(time.Hour)))

		session, err := sm.GetSessionByToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, int64(10), session.UserID)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupExpiredSessions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sm := NewSessionManager(db)

	mock.ExpectExec("DELETE FROM sessions").
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := sm.CleanupExpiredSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
