// Package secrets manages keyed secret values and the token signing key.
package secrets

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/opsgate/opsgate/internal/logger"
	"github.com/opsgate/opsgate/internal/model"
	"github.com/opsgate/opsgate/internal/store"
)

// Secret-related errors.
var (
	ErrNoSigningSecret = errors.New("no signing secret configured")
	ErrSecretExpired   = errors.New("secret has expired")
)

const (
	secretLen     = 32
	signingKeyLen = 32
	// hkdfInfo labels the signing-key derivation; raw secret values never
	// sign tokens directly.
	hkdfInfo = "opsgate-token-v1"
)

// Service manages secret lifecycle and caches the derived signing key.
type Service struct {
	store      store.SecretStore
	log        *logger.Logger
	signingKey string // name of the secret backing token signatures

	mu     sync.RWMutex
	cached []byte // derived signing key, invalidated on rotation
}

// NewService creates a Service. signingKey names the SecretStore record the
// TokenService signs with.
func NewService(s store.SecretStore, signingKey string, log *logger.Logger) *Service {
	return &Service{
		store:      s,
		log:        log.WithComponent("secrets"),
		signingKey: signingKey,
	}
}

// Initialize ensures the signing secret exists, seeding it from bootstrap
// material or generating a random value on first run. Call at startup.
func (s *Service) Initialize(ctx context.Context, bootstrap string) error {
	_, err := s.store.Get(ctx, s.signingKey)
	if err == nil {
		s.log.Info().Str("key", s.signingKey).Msg("signing secret loaded")
		return nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("failed to load signing secret: %w", err)
	}

	var value []byte
	if bootstrap != "" {
		value = []byte(bootstrap)
	} else {
		value = make([]byte, secretLen)
		if _, err := rand.Read(value); err != nil {
			return fmt.Errorf("failed to generate signing secret: %w", err)
		}
	}
	if err := s.Set(ctx, s.signingKey, value, nil); err != nil {
		return err
	}
	s.log.Info().Str("key", s.signingKey).Msg("signing secret created")
	return nil
}

// Get returns a secret by key.
func (s *Service) Get(ctx context.Context, key string) (*model.Secret, error) {
	return s.store.Get(ctx, key)
}

// Set creates or replaces a secret value.
func (s *Service) Set(ctx context.Context, key string, value []byte, expiresAt *time.Time) error {
	now := time.Now().UTC()
	existing, err := s.store.Get(ctx, key)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("failed to load secret: %w", err)
	}

	sec := &model.Secret{
		Key:       key,
		Value:     value,
		Version:   1,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if existing != nil {
		sec.Version = existing.Version + 1
		sec.CreatedAt = existing.CreatedAt
		sec.RotatedAt = &now
	}
	if err := s.store.Put(ctx, sec); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	s.invalidate(key)
	return nil
}

// Rotate replaces the secret's value with fresh random material, stamping
// RotatedAt and bumping the version. Rotating the signing secret immediately
// invalidates all tokens signed with the prior value.
func (s *Service) Rotate(ctx context.Context, key string) (*model.SecretInfo, error) {
	existing, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load secret for rotation: %w", err)
	}

	value := make([]byte, secretLen)
	if _, err := rand.Read(value); err != nil {
		return nil, fmt.Errorf("failed to generate secret material: %w", err)
	}

	now := time.Now().UTC()
	rotated := &model.Secret{
		Key:       existing.Key,
		Value:     value,
		Version:   existing.Version + 1,
		CreatedAt: existing.CreatedAt,
		RotatedAt: &now,
		ExpiresAt: existing.ExpiresAt,
	}
	if err := s.store.Put(ctx, rotated); err != nil {
		return nil, fmt.Errorf("failed to store rotated secret: %w", err)
	}
	s.invalidate(key)
	s.log.Info().Str("key", key).Int("version", rotated.Version).Msg("secret rotated")
	return rotated.ToInfo(), nil
}

// List returns public info for all secrets.
func (s *Service) List(ctx context.Context) ([]*model.SecretInfo, error) {
	secrets, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]*model.SecretInfo, len(secrets))
	for i, sec := range secrets {
		infos[i] = sec.ToInfo()
	}
	return infos, nil
}

// SigningKey returns the HKDF-derived HMAC key for token signatures. The
// derivation is cached until the underlying secret rotates.
func (s *Service) SigningKey(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	if s.cached != nil {
		key := s.cached
		s.mu.RUnlock()
		return key, nil
	}
	s.mu.RUnlock()

	sec, err := s.store.Get(ctx, s.signingKey)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrNoSigningSecret
		}
		return nil, fmt.Errorf("failed to load signing secret: %w", err)
	}
	if sec.IsExpired(time.Now()) {
		return nil, ErrSecretExpired
	}

	key := make([]byte, signingKeyLen)
	r := hkdf.New(sha256.New, sec.Value, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}

	s.mu.Lock()
	s.cached = key
	s.mu.Unlock()
	return key, nil
}

func (s *Service) invalidate(key string) {
	if key != s.signingKey {
		return
	}
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
