package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opsgate/opsgate/internal/model"
)

// MemoryUserStore is an in-process UserStore for tests and bootstrap mode.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*model.User
}

// NewMemoryUserStore creates an empty MemoryUserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*model.User)}
}

func (s *MemoryUserStore) Get(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *MemoryUserStore) FindByName(ctx context.Context, name string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.DisplayName == name {
			return u.Clone(), nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *MemoryUserStore) Put(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user.Clone()
	return nil
}

func (s *MemoryUserStore) List(ctx context.Context) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MemoryAuditStore is an in-process append-only AuditStore.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*model.AuditEntry
}

// NewMemoryAuditStore creates an empty MemoryAuditStore.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(ctx context.Context, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *entry
	s.entries = append(s.entries, &e)
	return nil
}

func (s *MemoryAuditStore) Head(ctx context.Context) (*model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, model.ErrNotFound
	}
	e := *s.entries[len(s.entries)-1]
	return &e, nil
}

func (s *MemoryAuditStore) All(ctx context.Context) ([]*model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.AuditEntry, len(s.entries))
	for i, e := range s.entries {
		c := *e
		out[i] = &c
	}
	return out, nil
}

func (s *MemoryAuditStore) Search(ctx context.Context, f AuditFilter) ([]*model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.AuditEntry
	for _, e := range s.entries {
		if !matches(e, f) {
			continue
		}
		c := *e
		out = append(out, &c)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryAuditStore) Recent(ctx context.Context, n int) ([]*model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]*model.AuditEntry, 0, n)
	for _, e := range s.entries[len(s.entries)-n:] {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func matches(e *model.AuditEntry, f AuditFilter) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Tamper overwrites a stored entry in place. Only integrity tests use this;
// the AuditStore interface itself has no mutation path.
func (s *MemoryAuditStore) Tamper(seq int64, mutate func(*model.AuditEntry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Seq == seq {
			mutate(e)
			return true
		}
	}
	return false
}

// MemorySecretStore is an in-process SecretStore.
type MemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]*model.Secret
}

// NewMemorySecretStore creates an empty MemorySecretStore.
func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{secrets: make(map[string]*model.Secret)}
}

func (s *MemorySecretStore) Get(ctx context.Context, key string) (*model.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.secrets[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	c := *sec
	c.Value = append([]byte(nil), sec.Value...)
	return &c, nil
}

func (s *MemorySecretStore) Put(ctx context.Context, secret *model.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *secret
	c.Value = append([]byte(nil), secret.Value...)
	s.secrets[secret.Key] = &c
	return nil
}

func (s *MemorySecretStore) List(ctx context.Context) ([]*model.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Secret, 0, len(s.secrets))
	for _, sec := range s.secrets {
		c := *sec
		c.Value = append([]byte(nil), sec.Value...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// MemoryRevocationStore is an in-process RevocationStore with lazy expiry.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewMemoryRevocationStore creates an empty MemoryRevocationStore.
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{revoked: make(map[string]time.Time)}
}

func (s *MemoryRevocationStore) Add(ctx context.Context, tokenID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[tokenID] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryRevocationStore) Contains(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	deadline, ok := s.revoked[tokenID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if time.Now().After(deadline) {
		// Entry outlived the token itself; drop it.
		s.mu.Lock()
		delete(s.revoked, tokenID)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}
