// Package audit implements the append-only, hash-chained event trail.
// Each entry's chain hash covers the previous entry's hash plus its own
// canonical serialization, so any retroactive edit is detectable by a full
// replay.
package audit

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opsgate/opsgate/internal/logger"
	"github.com/opsgate/opsgate/internal/model"
	"github.com/opsgate/opsgate/internal/store"
)

// Record is the caller-facing shape of an event to append. Sequence numbers
// and hashes are assigned by the trail.
type Record struct {
	ActorID  string
	Action   string
	Resource string
	IP       string
	Outcome  model.Outcome
	Details  string
}

// Issue describes one position where verification diverged.
type Issue struct {
	Seq      int64  `json:"seq"`
	Stored   string `json:"stored"`
	Computed string `json:"computed"`
	Problem  string `json:"problem"`
}

// IntegrityReport is the result of a full chain replay.
type IntegrityReport struct {
	Valid   bool    `json:"valid"`
	Entries int     `json:"entries"`
	Issues  []Issue `json:"issues,omitempty"`
}

// Trail serializes appends around the chain head. Appends are single-writer:
// two appends computing from the same predecessor hash would corrupt the
// chain irrecoverably.
type Trail struct {
	store store.AuditStore
	log   *logger.Logger

	mu       sync.Mutex
	loaded   bool
	headSeq  int64
	headHash string
	// readOnly is set once a verification finds a violation; the trail then
	// refuses appends and the enforcer fails closed.
	readOnly bool

	clock func() time.Time
}

// NewTrail creates a Trail over the given store.
func NewTrail(s store.AuditStore, log *logger.Logger) *Trail {
	return &Trail{
		store: s,
		log:   log.WithComponent("audit"),
		clock: time.Now,
	}
}

// Append hashes and persists one record. It returns only after the entry is
// durable; callers treat a failure here as fatal for their own operation.
func (t *Trail) Append(ctx context.Context, rec Record) (*model.AuditEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.readOnly {
		return nil, fmt.Errorf("%w: trail is read-only", model.ErrIntegrityViolation)
	}

	if !t.loaded {
		if err := t.loadHeadLocked(ctx); err != nil {
			return nil, err
		}
	}

	// Hash only what the store can round-trip: TIMESTAMPTZ keeps
	// microseconds, so sub-microsecond digits must never enter the chain.
	now := t.clock().UTC().Truncate(time.Microsecond)
	entry := &model.AuditEntry{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Seq:       t.headSeq + 1,
		Timestamp: now,
		ActorID:   rec.ActorID,
		Action:    rec.Action,
		Resource:  rec.Resource,
		IP:        rec.IP,
		Outcome:   rec.Outcome,
		Details:   rec.Details,
		PrevHash:  t.headHash,
	}
	entry.ChainHash = model.ComputeChainHash(t.headHash, entry)

	if err := t.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit append failed: %w", err)
	}

	t.headSeq = entry.Seq
	t.headHash = entry.ChainHash
	return entry, nil
}

func (t *Trail) loadHeadLocked(ctx context.Context) error {
	head, err := t.store.Head(ctx)
	switch {
	case err == nil:
		t.headSeq = head.Seq
		t.headHash = head.ChainHash
	case errors.Is(err, model.ErrNotFound):
		t.headSeq = 0
		t.headHash = ""
	default:
		return fmt.Errorf("failed to load audit head: %w", err)
	}
	t.loaded = true
	return nil
}

// VerifyIntegrity replays the whole trail from the first entry and recomputes
// every hash. It enumerates every divergent position, not just the first;
// one mismatch invalidates everything at or after it.
func (t *Trail) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	entries, err := t.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entries: %w", err)
	}

	report := &IntegrityReport{Valid: true, Entries: len(entries)}
	prevHash := ""
	prevSeq := int64(0)
	for _, e := range entries {
		if e.Seq != prevSeq+1 {
			report.Issues = append(report.Issues, Issue{
				Seq:     e.Seq,
				Problem: fmt.Sprintf("sequence gap: expected %d", prevSeq+1),
			})
		}
		if e.PrevHash != prevHash {
			report.Issues = append(report.Issues, Issue{
				Seq:      e.Seq,
				Stored:   e.PrevHash,
				Computed: prevHash,
				Problem:  "previous-hash link broken",
			})
		}
		computed := model.ComputeChainHash(e.PrevHash, e)
		if computed != e.ChainHash {
			report.Issues = append(report.Issues, Issue{
				Seq:      e.Seq,
				Stored:   e.ChainHash,
				Computed: computed,
				Problem:  "chain hash mismatch",
			})
		}
		prevHash = e.ChainHash
		prevSeq = e.Seq
	}
	report.Valid = len(report.Issues) == 0

	if !report.Valid {
		t.mu.Lock()
		t.readOnly = true
		t.mu.Unlock()
		t.log.Error().
			Int("issues", len(report.Issues)).
			Int64("first_bad_seq", report.Issues[0].Seq).
			Msg("audit trail integrity violation, entering read-only mode")
	}
	return report, nil
}

// ReadOnly reports whether a past verification put the trail in read-only mode.
func (t *Trail) ReadOnly() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readOnly
}

// Search returns matching entries without re-verifying the chain. It is a
// plain projection for operators; it is not a substitute for VerifyIntegrity.
func (t *Trail) Search(ctx context.Context, f store.AuditFilter) ([]*model.AuditEntry, error) {
	return t.store.Search(ctx, f)
}

// Recent returns the last n entries without re-verifying the chain. Like
// Search, it makes no integrity claim about what it returns.
func (t *Trail) Recent(ctx context.Context, n int) ([]*model.AuditEntry, error) {
	return t.store.Recent(ctx, n)
}
