package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opsgate/opsgate/internal/database"
	"github.com/opsgate/opsgate/internal/model"
)

// SecretStore persists keyed secrets in PostgreSQL.
type SecretStore struct {
	db *database.Postgres
}

// NewSecretStore creates a new SecretStore.
func NewSecretStore(db *database.Postgres) *SecretStore {
	return &SecretStore{db: db}
}

// Get retrieves a secret by key.
func (s *SecretStore) Get(ctx context.Context, key string) (*model.Secret, error) {
	query := `
		SELECT key, value, version, created_at, rotated_at, expires_at
		FROM secrets
		WHERE key = $1
	`
	var sec model.Secret
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&sec.Key,
		&sec.Value,
		&sec.Version,
		&sec.CreatedAt,
		&sec.RotatedAt,
		&sec.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan secret: %w", err)
	}
	return &sec, nil
}

// Put upserts a secret record.
func (s *SecretStore) Put(ctx context.Context, sec *model.Secret) error {
	query := `
		INSERT INTO secrets (key, value, version, created_at, rotated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
		    value = EXCLUDED.value,
		    version = EXCLUDED.version,
		    rotated_at = EXCLUDED.rotated_at,
		    expires_at = EXCLUDED.expires_at
	`
	_, err := s.db.ExecContext(ctx, query,
		sec.Key, sec.Value, sec.Version, sec.CreatedAt, sec.RotatedAt, sec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert secret: %w", err)
	}
	return nil
}

// List returns all secrets ordered by key.
func (s *SecretStore) List(ctx context.Context) ([]*model.Secret, error) {
	query := `
		SELECT key, value, version, created_at, rotated_at, expires_at
		FROM secrets
		ORDER BY key
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	var secrets []*model.Secret
	for rows.Next() {
		var sec model.Secret
		if err := rows.Scan(
			&sec.Key, &sec.Value, &sec.Version,
			&sec.CreatedAt, &sec.RotatedAt, &sec.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan secret: %w", err)
		}
		secrets = append(secrets, &sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate secrets: %w", err)
	}
	return secrets, nil
}
