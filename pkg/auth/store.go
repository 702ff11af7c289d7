package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// UserStore handles user persistence
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new user store
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// GetByID retrieves a user by ID
func (s *UserStore) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password, email_verified_at, blocked_at, meta, created_at, updated_at
		FROM users WHERE id = $1
	`, id))
}

// FindByEmail retrieves a user by email (lowercased before lookup).
// Returns (nil, nil) when no user exists.
func (s *UserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	user, err := s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password, email_verified_at, blocked_at, meta, created_at, updated_at
		FROM users WHERE email = $1
	`, strings.ToLower(email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// CreateTx inserts a new user within an existing transaction and fills in
// the generated ID and timestamps.
func (s *UserStore) CreateTx(ctx context.Context, tx *sql.Tx, user *User) error {
	metaJSON, err := json.Marshal(user.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal user meta: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (email, name, password, email_verified_at, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, strings.ToLower(user.Email), user.Name, user.PasswordHash, user.EmailVerifiedAt, metaJSON).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (s *UserStore) scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	var name sql.NullString
	var metaJSON []byte

	err := row.Scan(&user.ID, &user.Email, &name, &user.PasswordHash,
		&user.EmailVerifiedAt, &user.BlockedAt, &metaJSON, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if name.Valid {
		user.Name = name.String
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &user.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user meta: %w", err)
		}
	}

	return user, nil
}
