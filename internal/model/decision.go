package model

// Effect is the terminal (or step-up) outcome of an access evaluation.
type Effect string

const (
	EffectGranted Effect = "granted"
	EffectDenied  Effect = "denied"
	// EffectMFARequired means the request is otherwise permitted but a
	// step-up code must be submitted before the grant is released.
	EffectMFARequired Effect = "mfa_required"
)

// Denial reasons surfaced to callers and recorded in audit details.
const (
	ReasonUnknownUser      = "unknown user"
	ReasonUserDisabled     = "user disabled"
	ReasonLocked           = "locked"
	ReasonIPNotAllowed     = "IP not allowed"
	ReasonNoPermission     = "no permission"
	ReasonAuditUnavailable = "audit unavailable"
	ReasonBadMFACode       = "invalid MFA code"
	ReasonMFAThrottled     = "MFA attempts throttled"
)

// Decision is the result of a full pipeline evaluation.
type Decision struct {
	Effect Effect `json:"effect"`
	// Reason is set for denials and the MFA challenge.
	Reason string `json:"reason,omitempty"`
}

// Granted reports whether access was conclusively allowed.
func (d Decision) Granted() bool {
	return d.Effect == EffectGranted
}
