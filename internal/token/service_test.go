package token

import (
	"context"
	"testing"
	"time"

	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/directory"
	"github.com/opsgate/opsgate/internal/logger"
	"github.com/opsgate/opsgate/internal/model"
	"github.com/opsgate/opsgate/internal/permission"
	"github.com/opsgate/opsgate/internal/secrets"
	"github.com/opsgate/opsgate/internal/store"
)

type fixture struct {
	svc     *Service
	users   *directory.Directory
	secrets *secrets.Service
	user    *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	secretStore := store.NewMemorySecretStore()
	sec := secrets.NewService(secretStore, "token-signing", logger.Nop())
	if err := sec.Initialize(ctx, ""); err != nil {
		t.Fatal(err)
	}

	users := directory.New(store.NewMemoryUserStore(), config.LockoutConfig{Threshold: 5, Duration: time.Hour}, logger.Nop())
	user, err := users.Create(ctx, "agent-007", model.RoleAgent, nil)
	if err != nil {
		t.Fatal(err)
	}

	svc := NewService(
		config.TokenConfig{TTL: 30 * 24 * time.Hour, Issuer: "opsgate"},
		sec, users, permission.Default(), store.NewMemoryRevocationStore(), logger.Nop(),
	)
	return &fixture{svc: svc, users: users, secrets: sec, user: user}
}

func TestIssueThenVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, claims, err := f.svc.Issue(ctx, f.user, "10.0.0.5")
	if err != nil {
		t.Fatal(err)
	}
	if claims.ID == "" {
		t.Fatal("no token id assigned")
	}
	if len(claims.Permissions) == 0 {
		t.Fatal("no permission snapshot embedded")
	}

	v, err := f.svc.Verify(ctx, raw, "")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid {
		t.Fatalf("fresh token invalid: %s", v.Reason)
	}
	if v.User.ID != f.user.ID {
		t.Errorf("subject = %s, want %s", v.User.ID, f.user.ID)
	}
}

func TestRevokedTokenNeverVerifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, _, err := f.svc.Issue(ctx, f.user, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Revoke(ctx, raw); err != nil {
		t.Fatal(err)
	}

	v, err := f.svc.Verify(ctx, raw, "")
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || v.Reason != ReasonRevoked {
		t.Fatalf("verify after revoke: valid=%v reason=%q, want revoked", v.Valid, v.Reason)
	}
}

func TestExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Issue in the past so the token is already expired.
	f.svc.clock = func() time.Time { return time.Now().Add(-31 * 24 * time.Hour) }
	raw, _, err := f.svc.Issue(ctx, f.user, "")
	if err != nil {
		t.Fatal(err)
	}
	f.svc.clock = time.Now

	v, err := f.svc.Verify(ctx, raw, "")
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || v.Reason != ReasonExpired {
		t.Fatalf("reason = %q, want expired", v.Reason)
	}
}

func TestTamperedTokenFailsSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, _, err := f.svc.Issue(ctx, f.user, "")
	if err != nil {
		t.Fatal(err)
	}
	tampered := raw[:len(raw)-2] + "xx"

	v, err := f.svc.Verify(ctx, tampered, "")
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid {
		t.Fatal("tampered token verified")
	}
}

func TestLockedSubjectRejectedByBareVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, _, err := f.svc.Issue(ctx, f.user, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.users.Lock(ctx, f.user.ID, time.Hour); err != nil {
		t.Fatal(err)
	}

	v, err := f.svc.Verify(ctx, raw, "")
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || v.Reason != ReasonSubjectLocked {
		t.Fatalf("reason = %q, want locked", v.Reason)
	}
}

func TestRoleChangeSupersedesOutstandingTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Issue a couple of seconds in the past so the role change lands in a
	// strictly later second than the token's iat.
	f.svc.clock = func() time.Time { return time.Now().Add(-2 * time.Second) }
	raw, _, err := f.svc.Issue(ctx, f.user, "")
	if err != nil {
		t.Fatal(err)
	}
	f.svc.clock = time.Now

	// SetRole advances the per-user issued-at watermark.
	if _, err := f.users.SetRole(ctx, f.user.ID, model.RoleGuest); err != nil {
		t.Fatal(err)
	}

	v, err := f.svc.Verify(ctx, raw, "")
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || v.Reason != ReasonSuperseded {
		t.Fatalf("reason = %q, want superseded", v.Reason)
	}
}

func TestRequiredRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, _, err := f.svc.Issue(ctx, f.user, "")
	if err != nil {
		t.Fatal(err)
	}

	v, err := f.svc.Verify(ctx, raw, model.RoleOps)
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || v.Reason != ReasonRoleMismatch {
		t.Fatalf("agent vs ops requirement: reason = %q", v.Reason)
	}

	v, err = f.svc.Verify(ctx, raw, model.RoleAgent)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid {
		t.Fatalf("matching role rejected: %s", v.Reason)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, _, err := f.svc.Issue(ctx, f.user, "10.0.0.5")
	if err != nil {
		t.Fatal(err)
	}

	newRaw, v, err := f.svc.Refresh(ctx, raw)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid {
		t.Fatalf("refresh rejected valid token: %s", v.Reason)
	}
	if newRaw == raw {
		t.Fatal("refresh returned the same token")
	}

	// Old token is revoked, new one verifies.
	old, err := f.svc.Verify(ctx, raw, "")
	if err != nil {
		t.Fatal(err)
	}
	if old.Valid || old.Reason != ReasonRevoked {
		t.Errorf("old token after refresh: %q", old.Reason)
	}
	fresh, err := f.svc.Verify(ctx, newRaw, "")
	if err != nil {
		t.Fatal(err)
	}
	if !fresh.Valid {
		t.Errorf("new token after refresh: %q", fresh.Reason)
	}
}

func TestRefreshOfInvalidTokenLeavesStateAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, _, err := f.svc.Issue(ctx, f.user, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Revoke(ctx, raw); err != nil {
		t.Fatal(err)
	}

	newRaw, v, err := f.svc.Refresh(ctx, raw)
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || newRaw != "" {
		t.Fatal("refresh issued a token for a revoked credential")
	}
}

func TestSecretRotationInvalidatesOutstandingTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, _, err := f.svc.Issue(ctx, f.user, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.secrets.Rotate(ctx, "token-signing"); err != nil {
		t.Fatal(err)
	}

	v, err := f.svc.Verify(ctx, raw, "")
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid {
		t.Fatal("token survived signing-secret rotation")
	}
	if v.Reason != ReasonBadSignature {
		t.Errorf("reason = %q, want bad signature", v.Reason)
	}
}

func TestMalformedToken(t *testing.T) {
	f := newFixture(t)
	v, err := f.svc.Verify(context.Background(), "not-a-token", "")
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || v.Reason != ReasonMalformed {
		t.Fatalf("reason = %q, want malformed", v.Reason)
	}
}
