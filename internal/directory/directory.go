// Package directory manages operator accounts: lookup, creation, role
// changes, lockout, and session state. Mutations run inside a per-user
// critical section and persist synchronously before returning.
package directory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/logger"
	"github.com/opsgate/opsgate/internal/model"
	"github.com/opsgate/opsgate/internal/store"
)

// DefaultLockDuration applies when Lock is called without a duration.
const DefaultLockDuration = time.Hour

const lockStripes = 64

// Directory is the user directory service.
type Directory struct {
	store   store.UserStore
	lockout config.LockoutConfig
	log     *logger.Logger
	clock   func() time.Time

	// stripes serialize read-modify-write cycles per user id. Process-local
	// only: the system is a single logical authority per deployment.
	stripes [lockStripes]sync.Mutex
}

// New creates a Directory.
func New(s store.UserStore, lockout config.LockoutConfig, log *logger.Logger) *Directory {
	return &Directory{
		store:   s,
		lockout: lockout,
		log:     log.WithComponent("directory"),
		clock:   time.Now,
	}
}

func (d *Directory) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &d.stripes[h.Sum32()%lockStripes]
}

// Get returns the user with the given id, or model.ErrNotFound.
func (d *Directory) Get(ctx context.Context, id string) (*model.User, error) {
	return d.store.Get(ctx, id)
}

// FindByName returns the user with the given display name.
func (d *Directory) FindByName(ctx context.Context, name string) (*model.User, error) {
	return d.store.FindByName(ctx, name)
}

// List returns all users.
func (d *Directory) List(ctx context.Context) ([]*model.User, error) {
	return d.store.List(ctx)
}

// Create adds a new user with a generated id, zero counters, and the
// current timestamp.
func (d *Directory) Create(ctx context.Context, name string, role model.Role, ipAllowList []string) (*model.User, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: display name is required", model.ErrInvalidInput)
	}
	if _, err := d.store.FindByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: user %q", model.ErrDuplicate, name)
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	now := d.clock().UTC()
	user := &model.User{
		ID:               uuid.New().String(),
		DisplayName:      name,
		Role:             role,
		IPAllowList:      ipAllowList,
		LastActiveAt:     now,
		MinTokenIssuedAt: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := d.store.Put(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to persist user: %w", err)
	}
	d.log.Info().Str("user_id", user.ID).Str("name", name).Str("role", string(role)).Msg("user created")
	return user, nil
}

// EnsureDefaultAdmin creates the named Admin account if the directory has no
// users yet. Called at bootstrap so a fresh deployment is operable.
func (d *Directory) EnsureDefaultAdmin(ctx context.Context, name string) (*model.User, error) {
	users, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(users) > 0 {
		return nil, nil
	}
	u, err := d.Create(ctx, name, model.RoleAdmin, nil)
	if err != nil {
		return nil, err
	}
	d.log.Info().Str("user_id", u.ID).Msg("default admin created")
	return u, nil
}

// mutate runs fn over the current record inside the user's critical section
// and persists the result synchronously. Store failures propagate.
func (d *Directory) mutate(ctx context.Context, id string, fn func(*model.User) error) (*model.User, error) {
	mu := d.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	user, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(user); err != nil {
		return nil, err
	}
	user.UpdatedAt = d.clock().UTC()
	if err := d.store.Put(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to persist user: %w", err)
	}
	return user, nil
}

// SetRole changes the user's role and advances the token watermark so that
// tokens issued under the previous role stop verifying.
func (d *Directory) SetRole(ctx context.Context, id string, role model.Role) (*model.User, error) {
	u, err := d.mutate(ctx, id, func(u *model.User) error {
		u.Role = role
		u.MinTokenIssuedAt = d.clock().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.log.Info().Str("user_id", id).Str("role", string(role)).Msg("role changed")
	return u, nil
}

// Lock sets a temporary lockout. A zero duration applies the default hour.
func (d *Directory) Lock(ctx context.Context, id string, duration time.Duration) (*model.User, error) {
	if duration <= 0 {
		duration = DefaultLockDuration
	}
	u, err := d.mutate(ctx, id, func(u *model.User) error {
		until := d.clock().UTC().Add(duration)
		u.LockedUntil = &until
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.log.Warn().Str("user_id", id).Time("until", *u.LockedUntil).Msg("user locked")
	return u, nil
}

// Unlock clears an active lockout and the failure counter.
func (d *Directory) Unlock(ctx context.Context, id string) (*model.User, error) {
	u, err := d.mutate(ctx, id, func(u *model.User) error {
		u.LockedUntil = nil
		u.FailedMFAAttempts = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.log.Info().Str("user_id", id).Msg("user unlocked")
	return u, nil
}

// SetMFAEnrolled records whether the user has an enrolled authenticator.
// The verifier's secret store is the enrollment source of truth; this flag
// mirrors it so listings show enrollment state.
func (d *Directory) SetMFAEnrolled(ctx context.Context, id string, enrolled bool) (*model.User, error) {
	return d.mutate(ctx, id, func(u *model.User) error {
		u.MFAEnabled = enrolled
		return nil
	})
}

// Deactivate soft-disables the account. There is no hard delete.
func (d *Directory) Deactivate(ctx context.Context, id string) (*model.User, error) {
	return d.mutate(ctx, id, func(u *model.User) error {
		u.Disabled = true
		u.CurrentSessionToken = nil
		return nil
	})
}

// RecordActivity stamps the user's last-active time.
func (d *Directory) RecordActivity(ctx context.Context, id string) error {
	_, err := d.mutate(ctx, id, func(u *model.User) error {
		u.LastActiveAt = d.clock().UTC()
		return nil
	})
	return err
}

// BindSession records the user's single live session token, replacing any
// previous one.
func (d *Directory) BindSession(ctx context.Context, id string, tok string) error {
	_, err := d.mutate(ctx, id, func(u *model.User) error {
		if tok == "" {
			u.CurrentSessionToken = nil
		} else {
			u.CurrentSessionToken = &tok
		}
		return nil
	})
	return err
}

// ApplyMFAResult runs the lockout reducer for one MFA verification outcome
// and persists the transition. It returns the updated user.
func (d *Directory) ApplyMFAResult(ctx context.Context, id string, success bool) (*model.User, error) {
	kind := EventMFAFailed
	if success {
		kind = EventMFASucceeded
	}
	policy := Policy{Threshold: d.lockout.Threshold, Duration: d.lockout.Duration}

	mu := d.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	user, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := Apply(user, Event{Kind: kind, At: d.clock().UTC()}, policy)
	if err := d.store.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to persist user: %w", err)
	}
	if next.LockedUntil != nil && (user.LockedUntil == nil || !next.LockedUntil.Equal(*user.LockedUntil)) {
		d.log.Warn().Str("user_id", id).Time("until", *next.LockedUntil).Msg("lockout triggered by MFA failures")
	}
	return next, nil
}
