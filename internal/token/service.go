// Package token issues, verifies, revokes, and refreshes the signed bearer
// tokens gating privileged operations. There is exactly one signing
// algorithm (HMAC-SHA256 over the derived signing key) and one revocation
// path.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/logger"
	"github.com/opsgate/opsgate/internal/model"
	"github.com/opsgate/opsgate/internal/permission"
	"github.com/opsgate/opsgate/internal/secrets"
	"github.com/opsgate/opsgate/internal/store"
)

// Verification reasons surfaced to callers.
const (
	ReasonValid          = "valid"
	ReasonRevoked        = "revoked"
	ReasonBadSignature   = "bad signature"
	ReasonExpired        = "expired"
	ReasonMalformed      = "malformed"
	ReasonUnknownSubject = "unknown subject"
	ReasonSubjectLocked  = "locked"
	ReasonSubjectGone    = "subject disabled"
	ReasonSuperseded     = "superseded"
	ReasonRoleMismatch   = "role mismatch"
)

// Claims is the signed payload. Permissions are a snapshot taken at issue
// time; a later role change does not restrict an outstanding token until
// expiry, revocation, or the subject's issued-at watermark advances.
type Claims struct {
	jwt.RegisteredClaims
	Role        model.Role `json:"role"`
	Permissions []string   `json:"perms,omitempty"`
	IP          string     `json:"ip,omitempty"`
}

// UserResolver resolves token subjects. Implemented by directory.Directory.
type UserResolver interface {
	Get(ctx context.Context, id string) (*model.User, error)
}

// Verification is the outcome of a Verify call.
type Verification struct {
	Valid  bool
	Reason string
	User   *model.User
	Claims *Claims
}

// Service is the token issue/verify/revoke/refresh lifecycle.
type Service struct {
	cfg     config.TokenConfig
	secrets *secrets.Service
	users   UserResolver
	matrix  *permission.Matrix
	revoked store.RevocationStore
	log     *logger.Logger
	clock   func() time.Time
}

// NewService creates a Service.
func NewService(cfg config.TokenConfig, sec *secrets.Service, users UserResolver, matrix *permission.Matrix, revoked store.RevocationStore, log *logger.Logger) *Service {
	return &Service{
		cfg:     cfg,
		secrets: sec,
		users:   users,
		matrix:  matrix,
		revoked: revoked,
		log:     log.WithComponent("token"),
		clock:   time.Now,
	}
}

// Issue signs a new bearer token for the user, embedding the permission
// snapshot computed from the matrix at this moment.
func (s *Service) Issue(ctx context.Context, user *model.User, ip string) (string, *Claims, error) {
	key, err := s.secrets.SigningKey(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to obtain signing key: %w", err)
	}

	now := s.clock().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
			ID:        uuid.New().String(),
		},
		Role:        user.Role,
		Permissions: s.matrix.SnapshotFor(user.Role),
		IP:          ip,
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Str("jti", claims.ID).Time("expires_at", claims.ExpiresAt.Time).Msg("token issued")
	return raw, claims, nil
}

// Verify validates a raw token. Check order: revocation set, signature,
// expiry, subject resolution (including lockout and the per-user issued-at
// watermark), then the optional role requirement. The revocation set is
// consulted synchronously; a revoked token never verifies, even before its
// natural expiry.
func (s *Service) Verify(ctx context.Context, raw string, requiredRole model.Role) (*Verification, error) {
	unverified, err := s.parseUnverified(raw)
	if err != nil {
		return &Verification{Reason: ReasonMalformed}, nil
	}

	contains, err := s.revoked.Contains(ctx, unverified.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to consult revocation set: %w", err)
	}
	if contains {
		return &Verification{Reason: ReasonRevoked}, nil
	}

	key, err := s.secrets.SigningKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain signing key: %w", err)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return &Verification{Reason: ReasonExpired, Claims: claims}, nil
		case errors.Is(err, jwt.ErrTokenMalformed):
			return &Verification{Reason: ReasonMalformed}, nil
		default:
			return &Verification{Reason: ReasonBadSignature}, nil
		}
	}

	user, err := s.users.Get(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return &Verification{Reason: ReasonUnknownSubject, Claims: claims}, nil
		}
		return nil, fmt.Errorf("failed to resolve token subject: %w", err)
	}
	if user.Disabled {
		return &Verification{Reason: ReasonSubjectGone, Claims: claims}, nil
	}
	if user.IsLocked(s.clock()) {
		// A bare verify must not bypass an active lockout.
		return &Verification{Reason: ReasonSubjectLocked, Claims: claims}, nil
	}
	// The serialized iat has second precision; truncate the watermark so a
	// token issued in the same second as the account is not rejected.
	if claims.IssuedAt != nil && claims.IssuedAt.Time.Before(user.MinTokenIssuedAt.Truncate(time.Second)) {
		return &Verification{Reason: ReasonSuperseded, Claims: claims}, nil
	}
	if requiredRole != "" && user.Role != requiredRole && !user.Role.IsAdmin() {
		return &Verification{Reason: ReasonRoleMismatch, User: user, Claims: claims}, nil
	}

	return &Verification{Valid: true, Reason: ReasonValid, User: user, Claims: claims}, nil
}

// Revoke adds the token to the revocation set for the remainder of its
// lifetime. Revoking an already-expired or malformed token is a no-op error.
func (s *Service) Revoke(ctx context.Context, raw string) error {
	claims, err := s.parseUnverified(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidCredential, err)
	}

	ttl := s.cfg.TTL
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
		if ttl <= 0 {
			// Already expired; nothing to blacklist.
			return nil
		}
	}
	if err := s.revoked.Add(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("failed to record revocation: %w", err)
	}
	s.log.Info().Str("jti", claims.ID).Msg("token revoked")
	return nil
}

// Refresh verifies the old token, issues a replacement, then revokes the
// old one. If verification fails no new token is issued and the old token
// is left untouched.
func (s *Service) Refresh(ctx context.Context, raw string) (string, *Verification, error) {
	v, err := s.Verify(ctx, raw, "")
	if err != nil {
		return "", nil, err
	}
	if !v.Valid {
		return "", v, nil
	}

	newRaw, _, err := s.Issue(ctx, v.User, v.Claims.IP)
	if err != nil {
		return "", nil, err
	}
	if err := s.Revoke(ctx, raw); err != nil {
		return "", nil, err
	}
	return newRaw, v, nil
}

func (s *Service) parseUnverified(raw string) (*Claims, error) {
	claims := &Claims{}
	_, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
