package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/opsgate/opsgate/internal/database"
	"github.com/opsgate/opsgate/internal/model"
	"github.com/opsgate/opsgate/internal/store"
)

// AuditStore persists the hash-chained trail in PostgreSQL. The table is
// append-only; no update or delete statement exists in this package.
type AuditStore struct {
	db *database.Postgres
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(db *database.Postgres) *AuditStore {
	return &AuditStore{db: db}
}

const auditColumns = `id, seq, ts, actor_id, action, resource, ip, outcome, details, prev_hash, chain_hash`

// Append inserts a fully-hashed entry.
func (s *AuditStore) Append(ctx context.Context, e *model.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (id, seq, ts, actor_id, action, resource, ip,
		    outcome, details, prev_hash, chain_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Seq, e.Timestamp, e.ActorID, e.Action, e.Resource,
		e.IP, e.Outcome, e.Details, e.PrevHash, e.ChainHash,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Head returns the most recent entry.
func (s *AuditStore) Head(ctx context.Context) (*model.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries ORDER BY seq DESC LIMIT 1`
	return scanEntry(s.db.QueryRowContext(ctx, query))
}

// All returns every entry in ascending sequence order.
func (s *AuditStore) All(ctx context.Context) ([]*model.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_entries ORDER BY seq ASC`
	return s.queryEntries(ctx, query)
}

// Search returns entries matching the filter, oldest first.
func (s *AuditStore) Search(ctx context.Context, f store.AuditFilter) ([]*model.AuditEntry, error) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Resource != "" {
		add("resource = $%d", f.Resource)
	}
	if f.Outcome != "" {
		add("outcome = $%d", string(f.Outcome))
	}
	if !f.Since.IsZero() {
		add("ts >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("ts <= $%d", f.Until)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.queryEntries(ctx, query, args...)
}

// Recent returns the last n entries in chronological order.
func (s *AuditStore) Recent(ctx context.Context, n int) ([]*model.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + ` FROM (
		    SELECT ` + auditColumns + ` FROM audit_entries ORDER BY seq DESC LIMIT $1
		) tail ORDER BY seq ASC
	`
	return s.queryEntries(ctx, query, n)
}

func (s *AuditStore) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(
			&e.ID, &e.Seq, &e.Timestamp, &e.ActorID, &e.Action, &e.Resource,
			&e.IP, &e.Outcome, &e.Details, &e.PrevHash, &e.ChainHash,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

func scanEntry(row *sql.Row) (*model.AuditEntry, error) {
	var e model.AuditEntry
	err := row.Scan(
		&e.ID, &e.Seq, &e.Timestamp, &e.ActorID, &e.Action, &e.Resource,
		&e.IP, &e.Outcome, &e.Details, &e.PrevHash, &e.ChainHash,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	return &e, nil
}
