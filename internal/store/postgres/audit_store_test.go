package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/opsgate/opsgate/internal/database"
	"github.com/opsgate/opsgate/internal/model"
	"github.com/opsgate/opsgate/internal/store"
)

func newMockAuditStore(t *testing.T) (*AuditStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAuditStore(&database.Postgres{DB: db}), mock
}

func testEntry(seq int64) *model.AuditEntry {
	return &model.AuditEntry{
		ID:        "01HENTRY",
		Seq:       seq,
		Timestamp: time.Unix(1700000000, 0).UTC(),
		ActorID:   "u1",
		Action:    "read",
		Resource:  "dashboard",
		IP:        "10.0.0.5",
		Outcome:   model.OutcomeSuccess,
		Details:   "granted",
		PrevHash:  "aa",
		ChainHash: "bb",
	}
}

func entryRows(entries ...*model.AuditEntry) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "seq", "ts", "actor_id", "action", "resource", "ip",
		"outcome", "details", "prev_hash", "chain_hash",
	})
	for _, e := range entries {
		rows.AddRow(e.ID, e.Seq, e.Timestamp, e.ActorID, e.Action, e.Resource,
			e.IP, e.Outcome, e.Details, e.PrevHash, e.ChainHash)
	}
	return rows
}

func TestAuditStoreAppend(t *testing.T) {
	s, mock := newMockAuditStore(t)
	e := testEntry(1)

	mock.ExpectExec(`INSERT INTO audit_entries`).
		WithArgs(e.ID, e.Seq, e.Timestamp, e.ActorID, e.Action, e.Resource,
			e.IP, e.Outcome, e.Details, e.PrevHash, e.ChainHash).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Append(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAuditStoreAppendPropagatesError(t *testing.T) {
	s, mock := newMockAuditStore(t)
	e := testEntry(1)

	mock.ExpectExec(`INSERT INTO audit_entries`).
		WillReturnError(errors.New("disk full"))

	if err := s.Append(context.Background(), e); err == nil {
		t.Fatal("append swallowed the database error")
	}
}

func TestAuditStoreHead(t *testing.T) {
	s, mock := newMockAuditStore(t)
	e := testEntry(7)

	mock.ExpectQuery(`SELECT (.+) FROM audit_entries ORDER BY seq DESC LIMIT 1`).
		WillReturnRows(entryRows(e))

	got, err := s.Head(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Seq != 7 || got.ChainHash != "bb" {
		t.Errorf("head = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAuditStoreHeadEmpty(t *testing.T) {
	s, mock := newMockAuditStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM audit_entries ORDER BY seq DESC LIMIT 1`).
		WillReturnRows(entryRows())

	_, err := s.Head(context.Background())
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAuditStoreSearchBuildsConditions(t *testing.T) {
	s, mock := newMockAuditStore(t)
	since := time.Unix(1690000000, 0).UTC()

	mock.ExpectQuery(`SELECT (.+) FROM audit_entries WHERE actor_id = \$1 AND outcome = \$2 AND ts >= \$3 ORDER BY seq ASC LIMIT \$4`).
		WithArgs("u1", string(model.OutcomeDenied), since, 10).
		WillReturnRows(entryRows(testEntry(3)))

	got, err := s.Search(context.Background(), store.AuditFilter{
		ActorID: "u1",
		Outcome: model.OutcomeDenied,
		Since:   since,
		Limit:   10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Seq != 3 {
		t.Errorf("search = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAuditStoreSearchNoFilter(t *testing.T) {
	s, mock := newMockAuditStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM audit_entries ORDER BY seq ASC`).
		WillReturnRows(entryRows(testEntry(1), testEntry(2)))

	got, err := s.Search(context.Background(), store.AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("search = %d entries, want 2", len(got))
	}
}

func TestAuditStoreRecent(t *testing.T) {
	s, mock := newMockAuditStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM \(\s*SELECT (.+) FROM audit_entries ORDER BY seq DESC LIMIT \$1\s*\) tail ORDER BY seq ASC`).
		WithArgs(2).
		WillReturnRows(entryRows(testEntry(4), testEntry(5)))

	got, err := s.Recent(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Seq != 4 || got[1].Seq != 5 {
		t.Errorf("recent = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
