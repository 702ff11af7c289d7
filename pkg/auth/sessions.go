package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long issued sessions remain valid.
const DefaultSessionTTL = 24 * time.Hour

// SessionManager issues and validates login sessions
type SessionManager struct {
	db        *sql.DB
	generator *TokenGenerator
	ttl       time.Duration
}

// NewSessionManager creates a new session manager
func NewSessionManager(db *sql.DB) *SessionManager {
	return &SessionManager{
		db:        db,
		generator: NewTokenGenerator(),
		ttl:       DefaultSessionTTL,
	}
}

// IssueSession creates a session for the user and returns the plaintext
// bearer token. The token is never stored; only its hash is.
func (sm *SessionManager) IssueSession(ctx context.Context, userID int64) (*Session, string, error) {
	token, tokenHash, err := sm.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate session token: %w", err)
	}

	session := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: tokenHash,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(sm.ttl),
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session.ID, session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}

	return session, token, nil
}

// GetSessionByToken resolves a plaintext token to its unexpired session.
func (sm *SessionManager) GetSessionByToken(ctx context.Context, token string) (*Session, error) {
	if err := sm.generator.ValidateTokenFormat(token); err != nil {
		return nil, fmt.Errorf("invalid token format: %w", err)
	}

	session := &Session{}
	err := sm.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at
		FROM sessions
		WHERE token_hash = $1 AND expires_at > NOW()
	`, sm.generator.HashToken(token)).Scan(
		&session.ID, &session.UserID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// DeleteSession removes a session
func (sm *SessionManager) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := sm.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	return err
}

// CleanupExpiredSessions removes expired sessions and reports how many were deleted
func (sm *SessionManager) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	result, err := sm.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
