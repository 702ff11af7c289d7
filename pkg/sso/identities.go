package sso

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// IdentityStore handles user-identity persistence. The unique constraint on
// (connection_id, subject) lives in the schema; concurrent first logins race
// on insert and the loser retries through GetByConnectionAndSubject.
type IdentityStore struct {
	db *sql.DB
}

// NewIdentityStore creates a new identity store
func NewIdentityStore(db *sql.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

// GetByConnectionAndSubject retrieves the identity row linking a connection
// and an external subject. Returns (nil, nil) when no link exists.
func (s *IdentityStore) GetByConnectionAndSubject(ctx context.Context, connectionID int64, subject string) (*UserIdentity, error) {
	identity := &UserIdentity{}
	var claimsJSON []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, connection_id, subject, email, claims, created_at, updated_at
		FROM user_identities WHERE connection_id = $1 AND subject = $2
	`, connectionID, subject).Scan(&identity.ID, &identity.UserID, &identity.ConnectionID,
		&identity.Subject, &identity.Email, &claimsJSON, &identity.CreatedAt, &identity.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user identity: %w", err)
	}

	if len(claimsJSON) > 0 {
		if err := json.Unmarshal(claimsJSON, &identity.Claims); err != nil {
			return nil, fmt.Errorf("failed to unmarshal identity claims: %w", err)
		}
	}

	return identity, nil
}

// CreateTx inserts a new identity row within an existing transaction
func (s *IdentityStore) CreateTx(ctx context.Context, tx *sql.Tx, identity *UserIdentity) error {
	claimsJSON, err := json.Marshal(identity.Claims)
	if err != nil {
		return fmt.Errorf("failed to marshal identity claims: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO user_identities (user_id, connection_id, subject, email, claims, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, identity.UserID, identity.ConnectionID, identity.Subject, identity.Email, claimsJSON).
		Scan(&identity.ID, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user identity: %w", err)
	}

	return nil
}

// RecordLogin refreshes the last-seen email and claim set on an existing
// identity. The row is never re-pointed to a different user.
func (s *IdentityStore) RecordLogin(ctx context.Context, id int64, email string, claims Claims) error {
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("failed to marshal identity claims: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE user_identities SET email = $2, claims = $3, updated_at = NOW() WHERE id = $1
	`, id, email, claimsJSON)
	if err != nil {
		return fmt.Errorf("failed to update user identity: %w", err)
	}

	return nil
}
