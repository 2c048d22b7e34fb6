package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/logger"
	"github.com/opsgate/opsgate/internal/model"
	"github.com/opsgate/opsgate/internal/store"
)

func newTestDirectory() *Directory {
	return New(store.NewMemoryUserStore(), config.LockoutConfig{
		Threshold: 5,
		Duration:  time.Hour,
	}, logger.Nop())
}

func TestCreateAndGet(t *testing.T) {
	d := newTestDirectory()
	ctx := context.Background()

	u, err := d.Create(ctx, "agent-007", model.RoleAgent, []string{"10.0.0.5"})
	if err != nil {
		t.Fatal(err)
	}
	if u.ID == "" {
		t.Fatal("no id generated")
	}
	if u.FailedMFAAttempts != 0 || u.LockedUntil != nil {
		t.Error("new user has nonzero counters")
	}

	// Repeated reads without mutation return identical results.
	first, err := d.Get(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.Get(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID || first.Role != second.Role || !first.UpdatedAt.Equal(second.UpdatedAt) {
		t.Error("Get is not idempotent")
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	d := newTestDirectory()
	ctx := context.Background()
	if _, err := d.Create(ctx, "ops-1", model.RoleOps, nil); err != nil {
		t.Fatal(err)
	}
	_, err := d.Create(ctx, "ops-1", model.RoleOps, nil)
	if !errors.Is(err, model.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestMutatingUnknownUserReturnsNotFound(t *testing.T) {
	d := newTestDirectory()
	ctx := context.Background()

	if _, err := d.SetRole(ctx, "missing", model.RoleOps); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("SetRole err = %v, want ErrNotFound", err)
	}
	if _, err := d.Lock(ctx, "missing", time.Hour); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Lock err = %v, want ErrNotFound", err)
	}
	if err := d.RecordActivity(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("RecordActivity err = %v, want ErrNotFound", err)
	}
}

func TestSetRoleAdvancesWatermark(t *testing.T) {
	d := newTestDirectory()
	ctx := context.Background()
	u, err := d.Create(ctx, "ops-1", model.RoleOps, nil)
	if err != nil {
		t.Fatal(err)
	}

	before := u.MinTokenIssuedAt
	d.clock = func() time.Time { return before.Add(time.Minute) }

	updated, err := d.SetRole(ctx, u.ID, model.RoleGuest)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Role != model.RoleGuest {
		t.Errorf("role = %s", updated.Role)
	}
	if !updated.MinTokenIssuedAt.After(before) {
		t.Error("watermark did not advance on role change")
	}
}

func TestLockUnlock(t *testing.T) {
	d := newTestDirectory()
	ctx := context.Background()
	u, err := d.Create(ctx, "ops-1", model.RoleOps, nil)
	if err != nil {
		t.Fatal(err)
	}

	locked, err := d.Lock(ctx, u.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !locked.IsLocked(time.Now()) {
		t.Fatal("user not locked")
	}
	if got := time.Until(*locked.LockedUntil); got < 59*time.Minute || got > 61*time.Minute {
		t.Errorf("default lock duration = %v, want about an hour", got)
	}

	unlocked, err := d.Unlock(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if unlocked.IsLocked(time.Now()) || unlocked.FailedMFAAttempts != 0 {
		t.Error("unlock did not clear state")
	}
}

func TestApplyMFAResultLockout(t *testing.T) {
	d := newTestDirectory()
	ctx := context.Background()
	u, err := d.Create(ctx, "agent-1", model.RoleAgent, nil)
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d.clock = func() time.Time { return at }

	var last *model.User
	for i := 0; i < 5; i++ {
		last, err = d.ApplyMFAResult(ctx, u.ID, false)
		if err != nil {
			t.Fatal(err)
		}
	}
	if last.LockedUntil == nil {
		t.Fatal("five failures did not lock")
	}
	if want := at.Add(time.Hour); !last.LockedUntil.Equal(want) {
		t.Errorf("LockedUntil = %v, want %v", last.LockedUntil, want)
	}

	// The transition is durable, not just in the returned copy.
	persisted, err := d.Get(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.LockedUntil == nil {
		t.Error("lockout not persisted")
	}
}

func TestSetMFAEnrolled(t *testing.T) {
	d := newTestDirectory()
	ctx := context.Background()
	u, err := d.Create(ctx, "agent-1", model.RoleAgent, nil)
	if err != nil {
		t.Fatal(err)
	}
	if u.MFAEnabled {
		t.Fatal("new user reports an enrolled authenticator")
	}

	if _, err := d.SetMFAEnrolled(ctx, u.ID, true); err != nil {
		t.Fatal(err)
	}
	got, err := d.Get(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.MFAEnabled {
		t.Error("enrollment flag not persisted")
	}

	if _, err := d.SetMFAEnrolled(ctx, "missing", true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEnsureDefaultAdmin(t *testing.T) {
	d := newTestDirectory()
	ctx := context.Background()

	admin, err := d.EnsureDefaultAdmin(ctx, "root")
	if err != nil {
		t.Fatal(err)
	}
	if admin == nil || admin.Role != model.RoleAdmin {
		t.Fatalf("bootstrap admin = %+v", admin)
	}

	// Second call is a no-op on a populated directory.
	again, err := d.EnsureDefaultAdmin(ctx, "root")
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Error("default admin created twice")
	}
}

func TestBindSession(t *testing.T) {
	d := newTestDirectory()
	ctx := context.Background()
	u, err := d.Create(ctx, "ops-1", model.RoleOps, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := d.BindSession(ctx, u.ID, "tok-1"); err != nil {
		t.Fatal(err)
	}
	if err := d.BindSession(ctx, u.ID, "tok-2"); err != nil {
		t.Fatal(err)
	}
	got, err := d.Get(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentSessionToken == nil || *got.CurrentSessionToken != "tok-2" {
		t.Error("session binding did not replace the previous token")
	}
}
