// Package enforcer answers "is this operation allowed". It runs a fixed,
// short-circuiting gate order over independent trust signals and records
// every terminal outcome in the audit trail before returning. The system is
// fail-closed: no privileged access is granted without a durable audit
// record.
package enforcer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/opsgate/opsgate/internal/audit"
	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/directory"
	"github.com/opsgate/opsgate/internal/logger"
	"github.com/opsgate/opsgate/internal/mfa"
	"github.com/opsgate/opsgate/internal/model"
	"github.com/opsgate/opsgate/internal/obs"
	"github.com/opsgate/opsgate/internal/permission"
	"github.com/opsgate/opsgate/internal/token"
)

// Request is one access evaluation.
type Request struct {
	UserID   string
	Action   string
	Resource string
	IP       string
	// Token optionally carries a bearer token to validate as an additional
	// gate. An invalid token denies the request even if the role would pass.
	Token string
}

// Enforcer orchestrates the directory, permission matrix, token service,
// MFA collaborator, and audit trail.
type Enforcer struct {
	users    *directory.Directory
	matrix   *permission.Matrix
	tokens   *token.Service
	verifier mfa.Verifier
	trail    *audit.Trail
	security config.SecurityConfig
	log      *logger.Logger
	clock    func() time.Time

	throttleMu   sync.Mutex
	throttles    map[string]*throttleEntry
	perMinute    int
	maxThrottles int
}

// throttleEntry pairs a limiter with its last use so idle entries can be
// evicted once the map reaches maxThrottles.
type throttleEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

const (
	defaultMaxThrottles = 4096
	throttleIdleAfter   = 10 * time.Minute
)

// New creates an Enforcer.
func New(
	users *directory.Directory,
	matrix *permission.Matrix,
	tokens *token.Service,
	verifier mfa.Verifier,
	trail *audit.Trail,
	security config.SecurityConfig,
	mfaCfg config.MFAConfig,
	log *logger.Logger,
) *Enforcer {
	return &Enforcer{
		users:     users,
		matrix:    matrix,
		tokens:    tokens,
		verifier:  verifier,
		trail:     trail,
		security:  security,
		log:       log.WithComponent("enforcer"),
		clock:        time.Now,
		throttles:    make(map[string]*throttleEntry),
		perMinute:    mfaCfg.ThrottlePerMinute,
		maxThrottles: defaultMaxThrottles,
	}
}

// Evaluate runs the full gate pipeline. Sensitive actions terminate in
// EffectMFARequired; the caller then submits a code via AuthenticateWithMFA.
func (e *Enforcer) Evaluate(ctx context.Context, req Request) (model.Decision, error) {
	return e.evaluate(ctx, req, false)
}

// evaluate is the pipeline. mfaSatisfied is true only for the re-run
// immediately following a successful step-up verification; it is never
// cached across calls.
func (e *Enforcer) evaluate(ctx context.Context, req Request, mfaSatisfied bool) (model.Decision, error) {
	// Gate 1: user lookup.
	user, err := e.users.Get(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return e.deny(ctx, req, model.ReasonUnknownUser)
		}
		return model.Decision{}, fmt.Errorf("user lookup failed: %w", err)
	}
	if user.Disabled {
		return e.deny(ctx, req, model.ReasonUserDisabled)
	}

	// Gate 2: lockout. An active lockout denies everything, regardless of
	// role, permission, or IP correctness.
	if user.IsLocked(e.clock()) {
		return e.deny(ctx, req, model.ReasonLocked)
	}

	// Gate 3: source IP allowlist.
	if !user.IPAllowed(req.IP) {
		return e.deny(ctx, req, model.ReasonIPNotAllowed)
	}

	// Gate 4: bearer token, when presented.
	if req.Token != "" {
		v, err := e.tokens.Verify(ctx, req.Token, "")
		if err != nil {
			return model.Decision{}, fmt.Errorf("token verification failed: %w", err)
		}
		obs.TokenVerification(v.Reason)
		if !v.Valid {
			return e.deny(ctx, req, "token "+v.Reason)
		}
		if v.User.ID != user.ID {
			return e.deny(ctx, req, "token subject mismatch")
		}
	}

	// Gate 5: permission matrix (Admin bypasses).
	if !e.matrix.Allowed(req.Resource, req.Action, user.Role) {
		return e.deny(ctx, req, model.ReasonNoPermission)
	}

	// Gate 6: sensitive actions require step-up MFA on every call, for
	// every role including Admin. There is no session-level caching.
	if e.security.IsSensitive(req.Action) && !mfaSatisfied {
		dec := model.Decision{Effect: model.EffectMFARequired, Reason: "step-up required"}
		return e.finish(ctx, req, audit.Record{
			ActorID:  req.UserID,
			Action:   req.Action,
			Resource: req.Resource,
			IP:       req.IP,
			Outcome:  model.OutcomeFailure,
			Details:  "mfa challenge issued",
		}, dec)
	}

	dec := model.Decision{Effect: model.EffectGranted}
	dec, err = e.finish(ctx, req, audit.Record{
		ActorID:  req.UserID,
		Action:   req.Action,
		Resource: req.Resource,
		IP:       req.IP,
		Outcome:  model.OutcomeSuccess,
		Details:  "granted",
	}, dec)
	if err != nil {
		return dec, err
	}
	if dec.Granted() {
		if err := e.users.RecordActivity(ctx, user.ID); err != nil {
			// The grant is already durable in the trail; activity is
			// advisory.
			e.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record activity")
		}
	}
	return dec, nil
}

// AuthenticateWithMFA verifies a step-up code and, on success, re-runs the
// FULL pipeline. Success can never bypass a lockout or role change that
// happened since the challenge was issued.
func (e *Enforcer) AuthenticateWithMFA(ctx context.Context, userID, code, action, resource, ip string) (model.Decision, error) {
	req := Request{UserID: userID, Action: action, Resource: resource, IP: ip}

	if !e.allowAttempt(userID) {
		obs.MFAChallenge("throttled")
		return e.denyMFA(ctx, req, model.ReasonMFAThrottled)
	}

	res, err := e.verifier.VerifyOTP(ctx, userID, code)
	if err != nil {
		return model.Decision{}, fmt.Errorf("MFA verification failed: %w", err)
	}

	if !res.Valid {
		obs.MFAChallenge("failed")
		user, aerr := e.users.ApplyMFAResult(ctx, userID, false)
		if aerr != nil && !errors.Is(aerr, model.ErrNotFound) {
			return model.Decision{}, aerr
		}
		reason := model.ReasonBadMFACode
		if user != nil && user.IsLocked(e.clock()) {
			reason = model.ReasonLocked
		}
		return e.denyMFA(ctx, req, reason)
	}

	obs.MFAChallenge("ok")
	if _, err := e.users.ApplyMFAResult(ctx, userID, true); err != nil && !errors.Is(err, model.ErrNotFound) {
		return model.Decision{}, err
	}

	// Re-run everything: the code was right, but the world may have moved.
	return e.evaluate(ctx, req, true)
}

// deny closes a pipeline gate: one audit entry, then the decision.
func (e *Enforcer) deny(ctx context.Context, req Request, reason string) (model.Decision, error) {
	return e.finish(ctx, req, audit.Record{
		ActorID:  req.UserID,
		Action:   req.Action,
		Resource: req.Resource,
		IP:       req.IP,
		Outcome:  model.OutcomeDenied,
		Details:  reason,
	}, model.Decision{Effect: model.EffectDenied, Reason: reason})
}

// denyMFA records a failed step-up attempt as its own terminal outcome.
func (e *Enforcer) denyMFA(ctx context.Context, req Request, reason string) (model.Decision, error) {
	return e.finish(ctx, req, audit.Record{
		ActorID:  req.UserID,
		Action:   model.AuditActionMFAVerify,
		Resource: req.Resource,
		IP:       req.IP,
		Outcome:  model.OutcomeDenied,
		Details:  reason,
	}, model.Decision{Effect: model.EffectDenied, Reason: reason})
}

// finish appends the mandatory audit entry and returns the decision. If the
// append fails the decision collapses to Denied("audit unavailable"): no
// access decision exists without a corresponding immutable record.
func (e *Enforcer) finish(ctx context.Context, req Request, rec audit.Record, dec model.Decision) (model.Decision, error) {
	if _, err := e.trail.Append(ctx, rec); err != nil {
		obs.AuditAppendFailure()
		e.log.Error().Err(err).
			Str("user_id", req.UserID).
			Str("action", req.Action).
			Msg("audit append failed, failing closed")
		failed := model.Decision{Effect: model.EffectDenied, Reason: model.ReasonAuditUnavailable}
		obs.Decision(string(failed.Effect), failed.Reason)
		return failed, nil
	}
	obs.AuditAppend(string(rec.Outcome))
	obs.Decision(string(dec.Effect), dec.Reason)
	e.log.Decision(req.UserID, req.Action, req.Resource, req.IP, string(dec.Effect), dec.Reason)
	return dec, nil
}

// allowAttempt applies the per-user MFA attempt throttle.
func (e *Enforcer) allowAttempt(userID string) bool {
	if e.perMinute <= 0 {
		return true
	}
	e.throttleMu.Lock()
	ent, ok := e.throttles[userID]
	if !ok {
		if len(e.throttles) >= e.maxThrottles {
			e.evictThrottlesLocked()
		}
		ent = &throttleEntry{lim: rate.NewLimiter(rate.Limit(float64(e.perMinute)/60.0), e.perMinute)}
		e.throttles[userID] = ent
	}
	ent.seen = e.clock()
	e.throttleMu.Unlock()
	return ent.lim.Allow()
}

// evictThrottlesLocked drops idle limiters, then the oldest one if every
// entry is still fresh, so the map never exceeds maxThrottles.
func (e *Enforcer) evictThrottlesLocked() {
	cutoff := e.clock().Add(-throttleIdleAfter)
	for id, ent := range e.throttles {
		if ent.seen.Before(cutoff) {
			delete(e.throttles, id)
		}
	}
	if len(e.throttles) < e.maxThrottles {
		return
	}
	var oldestID string
	var oldest time.Time
	for id, ent := range e.throttles {
		if oldestID == "" || ent.seen.Before(oldest) {
			oldestID = id
			oldest = ent.seen
		}
	}
	delete(e.throttles, oldestID)
}
