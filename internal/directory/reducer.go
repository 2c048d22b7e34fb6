package directory

import (
	"time"

	"github.com/opsgate/opsgate/internal/model"
)

// Event is a state transition over the user's MFA failure counter and
// lockout window. All call paths that touch these fields go through Apply,
// so there is a single transition function to reason about.
type Event struct {
	Kind EventKind
	At   time.Time
}

// EventKind enumerates reducer events.
type EventKind int

const (
	// EventMFAFailed records one failed step-up verification.
	EventMFAFailed EventKind = iota
	// EventMFASucceeded records a successful step-up verification.
	EventMFASucceeded
)

// Policy is the lockout policy the reducer applies.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// Apply returns the user's next state for the event. It never mutates its
// input.
//
// Failure semantics: consecutive failures accumulate; the failure that
// reaches the threshold sets LockedUntil to exactly event-time plus the
// configured duration and resets the counter. A failure while a lockout is
// already active does not extend the window. Success clears the counter.
func Apply(u *model.User, ev Event, p Policy) *model.User {
	next := u.Clone()
	switch ev.Kind {
	case EventMFAFailed:
		if next.IsLocked(ev.At) {
			return next
		}
		next.FailedMFAAttempts++
		if next.FailedMFAAttempts >= p.Threshold {
			until := ev.At.Add(p.Duration)
			next.LockedUntil = &until
			next.FailedMFAAttempts = 0
		}
	case EventMFASucceeded:
		next.FailedMFAAttempts = 0
	}
	next.UpdatedAt = ev.At
	return next
}
