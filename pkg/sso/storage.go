package sso

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// ConnectionStore handles identity-connection persistence and resolution.
// Login-path lookups only ever see enabled connections; a disabled slug and
// an unknown slug are indistinguishable to callers.
type ConnectionStore struct {
	db *sql.DB
}

// NewConnectionStore creates a new connection store
func NewConnectionStore(db *sql.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

const connectionColumns = `id, name, slug, workspace_id, domain, issuer, client_id, client_secret,
		scopes, redirect_path, enabled, connection_type, options, created_at, updated_at`

// GetBySlug resolves an enabled connection by slug.
// Disabled and missing slugs both return ErrConnectionNotFound.
func (s *ConnectionStore) GetBySlug(ctx context.Context, slug string) (*IdentityConnection, error) {
	return s.scanConnection(s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM identity_connections
		WHERE slug = $1 AND enabled = true
	`, slug))
}

// GetByEmailDomain resolves the first enabled connection answering for the
// email's domain. The domain is the lowercased substring after the first
// "@"; addresses with no "@" or a leading "@" resolve to not found.
func (s *ConnectionStore) GetByEmailDomain(ctx context.Context, email string) (*IdentityConnection, error) {
	at := strings.Index(email, "@")
	if at <= 0 {
		return nil, ErrConnectionNotFound
	}
	domain := strings.ToLower(email[at+1:])

	return s.scanConnection(s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM identity_connections
		WHERE domain = $1 AND enabled = true
		ORDER BY id ASC
		LIMIT 1
	`, domain))
}

// GetByID retrieves a connection by ID regardless of enabled state.
// Used by the admin surface only.
func (s *ConnectionStore) GetByID(ctx context.Context, id int64) (*IdentityConnection, error) {
	return s.scanConnection(s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM identity_connections
		WHERE id = $1
	`, id))
}

// GetBySlugAny retrieves a connection by slug regardless of enabled state.
// Used by the admin surface only.
func (s *ConnectionStore) GetBySlugAny(ctx context.Context, slug string) (*IdentityConnection, error) {
	return s.scanConnection(s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM identity_connections
		WHERE slug = $1
	`, slug))
}

// List returns all connections, ordered by slug
func (s *ConnectionStore) List(ctx context.Context) ([]*IdentityConnection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+connectionColumns+`
		FROM identity_connections
		ORDER BY slug ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var connections []*IdentityConnection
	for rows.Next() {
		conn, err := s.scanConnectionRows(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}

	return connections, rows.Err()
}

// Create persists a new connection after enforcing the tenancy rules:
// globally-unique slug, one OIDC connection per workspace, and unique
// domain within the same workspace scope (global counts as its own scope).
func (s *ConnectionStore) Create(ctx context.Context, conn *IdentityConnection) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM identity_connections WHERE slug = $1)`, conn.Slug).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check slug: %w", err)
	}
	if exists {
		return fmt.Errorf("connection with slug %q already exists", conn.Slug)
	}

	if conn.WorkspaceID != nil && conn.Type == ConnectionTypeOIDC {
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM identity_connections
				WHERE workspace_id = $1 AND connection_type = $2)
		`, *conn.WorkspaceID, ConnectionTypeOIDC).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check workspace connections: %w", err)
		}
		if exists {
			return fmt.Errorf("workspace already has an OIDC connection")
		}
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM identity_connections
			WHERE domain = $1 AND workspace_id IS NOT DISTINCT FROM $2)
	`, strings.ToLower(conn.Domain), conn.WorkspaceID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check domain: %w", err)
	}
	if exists {
		return fmt.Errorf("connection for domain %q already exists in this scope", conn.Domain)
	}

	scopesJSON, optionsJSON, err := marshalConnectionJSON(conn)
	if err != nil {
		return err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO identity_connections (
			name, slug, workspace_id, domain, issuer, client_id, client_secret,
			scopes, redirect_path, enabled, connection_type, options, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, conn.Name, conn.Slug, conn.WorkspaceID, strings.ToLower(conn.Domain), conn.Issuer,
		conn.ClientID, conn.ClientSecret, scopesJSON, conn.RedirectPath, conn.Enabled,
		conn.Type, optionsJSON).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		// A concurrent create can still trip the unique constraints.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("connection conflicts with an existing one: %w", err)
		}
		return fmt.Errorf("failed to create connection: %w", err)
	}

	return nil
}

// Update persists changes to an existing connection. An empty ClientSecret
// keeps the stored secret; Options were merged by the caller.
func (s *ConnectionStore) Update(ctx context.Context, conn *IdentityConnection) error {
	scopesJSON, optionsJSON, err := marshalConnectionJSON(conn)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE identity_connections
		SET name = $1, domain = $2, issuer = $3, client_id = $4, client_secret = $5,
			scopes = $6, redirect_path = $7, enabled = $8, options = $9, updated_at = NOW()
		WHERE id = $10
	`, conn.Name, strings.ToLower(conn.Domain), conn.Issuer, conn.ClientID, conn.ClientSecret,
		scopesJSON, conn.RedirectPath, conn.Enabled, optionsJSON, conn.ID)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrConnectionNotFound
	}

	return nil
}

// Delete removes a connection by slug
func (s *ConnectionStore) Delete(ctx context.Context, slug string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM identity_connections WHERE slug = $1`, slug)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrConnectionNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *ConnectionStore) scanConnection(row *sql.Row) (*IdentityConnection, error) {
	conn, err := scanConnectionFrom(row)
	if err == sql.ErrNoRows {
		return nil, ErrConnectionNotFound
	}
	return conn, err
}

func (s *ConnectionStore) scanConnectionRows(rows *sql.Rows) (*IdentityConnection, error) {
	return scanConnectionFrom(rows)
}

func scanConnectionFrom(row rowScanner) (*IdentityConnection, error) {
	conn := &IdentityConnection{}
	var scopesJSON, optionsJSON []byte
	var redirectPath sql.NullString

	err := row.Scan(&conn.ID, &conn.Name, &conn.Slug, &conn.WorkspaceID, &conn.Domain,
		&conn.Issuer, &conn.ClientID, &conn.ClientSecret, &scopesJSON, &redirectPath,
		&conn.Enabled, &conn.Type, &optionsJSON, &conn.CreatedAt, &conn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	if redirectPath.Valid {
		conn.RedirectPath = redirectPath.String
	}
	if len(scopesJSON) > 0 {
		if err := json.Unmarshal(scopesJSON, &conn.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal connection scopes: %w", err)
		}
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &conn.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal connection options: %w", err)
		}
	}

	return conn, nil
}

func marshalConnectionJSON(conn *IdentityConnection) (scopesJSON, optionsJSON []byte, err error) {
	scopesJSON, err = json.Marshal(conn.Scopes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal connection scopes: %w", err)
	}
	if conn.Options == nil {
		conn.Options = Options{}
	}
	optionsJSON, err = json.Marshal(conn.Options)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal connection options: %w", err)
	}
	return scopesJSON, optionsJSON, nil
}
