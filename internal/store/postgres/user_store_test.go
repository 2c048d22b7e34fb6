package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/opsgate/opsgate/internal/database"
	"github.com/opsgate/opsgate/internal/model"
)

func newMockStore(t *testing.T) (*UserStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUserStore(&database.Postgres{DB: db}), mock
}

func userRows(u *model.User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "display_name", "role", "ip_allow_list", "mfa_enabled", "last_active_at",
		"current_session_token", "locked_until", "failed_mfa_attempts", "disabled",
		"min_token_issued_at", "created_at", "updated_at",
	}).AddRow(
		u.ID, u.DisplayName, u.Role, pq.Array(u.IPAllowList), u.MFAEnabled, u.LastActiveAt,
		u.CurrentSessionToken, u.LockedUntil, u.FailedMFAAttempts, u.Disabled,
		u.MinTokenIssuedAt, u.CreatedAt, u.UpdatedAt,
	)
}

func TestUserStoreGet(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	want := &model.User{
		ID:               "u1",
		DisplayName:      "agent-007",
		Role:             model.RoleAgent,
		IPAllowList:      []string{"10.0.0.5", "10.0.0.6"},
		MinTokenIssuedAt: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE id = \$1`).
		WithArgs("u1").
		WillReturnRows(userRows(want))

	got, err := s.Get(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != want.ID || got.DisplayName != want.DisplayName || got.Role != want.Role {
		t.Errorf("got %+v", got)
	}
	if len(got.IPAllowList) != 2 {
		t.Errorf("allowlist = %v", got.IPAllowList)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUserStoreGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUserStoreFindByName(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	want := &model.User{ID: "u1", DisplayName: "root", Role: model.RoleAdmin, MinTokenIssuedAt: now, CreatedAt: now, UpdatedAt: now}

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE display_name = \$1`).
		WithArgs("root").
		WillReturnRows(userRows(want))

	got, err := s.FindByName(context.Background(), "root")
	if err != nil {
		t.Fatal(err)
	}
	if got.Role != model.RoleAdmin {
		t.Errorf("role = %s", got.Role)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUserStorePutUpserts(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	u := &model.User{
		ID:               "u1",
		DisplayName:      "agent-007",
		Role:             model.RoleAgent,
		IPAllowList:      []string{"10.0.0.5"},
		MinTokenIssuedAt: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	mock.ExpectExec(`INSERT INTO users (.+) ON CONFLICT \(id\) DO UPDATE SET`).
		WithArgs(
			u.ID, u.DisplayName, u.Role, pq.Array(u.IPAllowList), u.MFAEnabled, u.LastActiveAt,
			u.CurrentSessionToken, u.LockedUntil, u.FailedMFAAttempts, u.Disabled,
			u.MinTokenIssuedAt, u.CreatedAt, u.UpdatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Put(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUserStoreList(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	a := &model.User{ID: "u1", DisplayName: "a", Role: model.RoleOps, MinTokenIssuedAt: now, CreatedAt: now, UpdatedAt: now}
	b := &model.User{ID: "u2", DisplayName: "b", Role: model.RoleGuest, MinTokenIssuedAt: now, CreatedAt: now, UpdatedAt: now}

	rows := userRows(a)
	rows.AddRow(
		b.ID, b.DisplayName, b.Role, pq.Array(b.IPAllowList), b.MFAEnabled, b.LastActiveAt,
		b.CurrentSessionToken, b.LockedUntil, b.FailedMFAAttempts, b.Disabled,
		b.MinTokenIssuedAt, b.CreatedAt, b.UpdatedAt,
	)
	mock.ExpectQuery(`SELECT (.+) FROM users ORDER BY created_at`).WillReturnRows(rows)

	users, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0].ID != "u1" || users[1].ID != "u2" {
		t.Errorf("list = %+v", users)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
