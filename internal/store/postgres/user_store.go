package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/opsgate/opsgate/internal/database"
	"github.com/opsgate/opsgate/internal/model"
)

// UserStore persists directory records in PostgreSQL.
type UserStore struct {
	db *database.Postgres
}

// NewUserStore creates a new UserStore.
func NewUserStore(db *database.Postgres) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, display_name, role, ip_allow_list, mfa_enabled, last_active_at,
	       current_session_token, locked_until, failed_mfa_attempts, disabled,
	       min_token_issued_at, created_at, updated_at`

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// FindByName retrieves a user by display name.
func (s *UserStore) FindByName(ctx context.Context, name string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE display_name = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, name))
}

// Put upserts a user record. The directory holds the write lock, so a plain
// upsert cannot lose concurrent updates.
func (s *UserStore) Put(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, display_name, role, ip_allow_list, mfa_enabled, last_active_at,
		    current_session_token, locked_until, failed_mfa_attempts, disabled,
		    min_token_issued_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
		    display_name = EXCLUDED.display_name,
		    role = EXCLUDED.role,
		    ip_allow_list = EXCLUDED.ip_allow_list,
		    mfa_enabled = EXCLUDED.mfa_enabled,
		    last_active_at = EXCLUDED.last_active_at,
		    current_session_token = EXCLUDED.current_session_token,
		    locked_until = EXCLUDED.locked_until,
		    failed_mfa_attempts = EXCLUDED.failed_mfa_attempts,
		    disabled = EXCLUDED.disabled,
		    min_token_issued_at = EXCLUDED.min_token_issued_at,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		u.ID,
		u.DisplayName,
		u.Role,
		pq.Array(u.IPAllowList),
		u.MFAEnabled,
		u.LastActiveAt,
		u.CurrentSessionToken,
		u.LockedUntil,
		u.FailedMFAAttempts,
		u.Disabled,
		u.MinTokenIssuedAt,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// List returns all users ordered by creation time.
func (s *UserStore) List(ctx context.Context) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *UserStore) scanUser(row *sql.Row) (*model.User, error) {
	return scanUserRow(row)
}

func scanUserRow(row rowScanner) (*model.User, error) {
	var u model.User
	var allowList pq.StringArray
	err := row.Scan(
		&u.ID,
		&u.DisplayName,
		&u.Role,
		&allowList,
		&u.MFAEnabled,
		&u.LastActiveAt,
		&u.CurrentSessionToken,
		&u.LockedUntil,
		&u.FailedMFAAttempts,
		&u.Disabled,
		&u.MinTokenIssuedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if len(allowList) > 0 {
		u.IPAllowList = []string(allowList)
	}
	return &u, nil
}
