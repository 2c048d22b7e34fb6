// Package obs holds the core's Prometheus instrumentation.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsgate_access_decisions_total",
			Help: "Access decisions by effect and reason.",
		},
		[]string{"effect", "reason"},
	)

	auditAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsgate_audit_appends_total",
			Help: "Audit trail appends by outcome.",
		},
		[]string{"outcome"},
	)

	auditAppendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "opsgate_audit_append_failures_total",
			Help: "Audit appends that failed and forced a fail-closed denial.",
		},
	)

	tokenVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsgate_token_verifications_total",
			Help: "Token verifications by result reason.",
		},
		[]string{"reason"},
	)

	mfaChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsgate_mfa_challenges_total",
			Help: "Step-up MFA verification attempts by result.",
		},
		[]string{"result"},
	)
)

// Init registers the core metrics with the given registerer. Counters work
// unregistered, so tests that never call Init cannot collide.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(
		decisionsTotal,
		auditAppendsTotal,
		auditAppendFailures,
		tokenVerificationsTotal,
		mfaChallengesTotal,
	)
}

// Decision records one terminal access decision.
func Decision(effect, reason string) {
	decisionsTotal.WithLabelValues(effect, reason).Inc()
}

// AuditAppend records one successful trail append.
func AuditAppend(outcome string) {
	auditAppendsTotal.WithLabelValues(outcome).Inc()
}

// AuditAppendFailure records a failed trail append.
func AuditAppendFailure() {
	auditAppendFailures.Inc()
}

// TokenVerification records one token verification result.
func TokenVerification(reason string) {
	tokenVerificationsTotal.WithLabelValues(reason).Inc()
}

// MFAChallenge records one step-up verification attempt.
func MFAChallenge(result string) {
	mfaChallengesTotal.WithLabelValues(result).Inc()
}
