// Package store defines the persistence contracts the core depends on.
// Implementations are injected at construction; enforcement logic never
// touches a concrete backend.
package store

import (
	"context"
	"time"

	"github.com/opsgate/opsgate/internal/model"
)

// UserStore persists directory records. Implementations return
// model.ErrNotFound for unknown ids.
type UserStore interface {
	Get(ctx context.Context, id string) (*model.User, error)
	FindByName(ctx context.Context, name string) (*model.User, error)
	Put(ctx context.Context, user *model.User) error
	List(ctx context.Context) ([]*model.User, error)
}

// AuditFilter narrows Search results. Zero values match everything.
type AuditFilter struct {
	ActorID  string
	Action   string
	Resource string
	Outcome  model.Outcome
	Since    time.Time
	Until    time.Time
	Limit    int
}

// AuditStore persists the hash-chained trail. It is append-only: there is
// deliberately no update or delete operation.
type AuditStore interface {
	// Append persists a fully-hashed entry. The caller owns chain ordering.
	Append(ctx context.Context, entry *model.AuditEntry) error
	// Head returns the last entry, or model.ErrNotFound on an empty trail.
	Head(ctx context.Context) (*model.AuditEntry, error)
	// All streams every entry in ascending sequence order for replay.
	All(ctx context.Context) ([]*model.AuditEntry, error)
	Search(ctx context.Context, f AuditFilter) ([]*model.AuditEntry, error)
	Recent(ctx context.Context, n int) ([]*model.AuditEntry, error)
}

// SecretStore persists keyed secrets.
type SecretStore interface {
	Get(ctx context.Context, key string) (*model.Secret, error)
	Put(ctx context.Context, secret *model.Secret) error
	List(ctx context.Context) ([]*model.Secret, error)
}

// RevocationStore tracks revoked token ids until their natural expiry.
type RevocationStore interface {
	Add(ctx context.Context, tokenID string, ttl time.Duration) error
	Contains(ctx context.Context, tokenID string) (bool, error)
}
