package model

import "errors"

// Error taxonomy shared across the core. The first four are expected,
// recoverable-by-caller outcomes; ErrIntegrityViolation is an alarm.
var (
	ErrNotFound           = errors.New("record not found")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrPolicyDenied       = errors.New("policy denied")
	ErrLocked             = errors.New("account locked")
	ErrIntegrityViolation = errors.New("audit integrity violation")

	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = errors.New("record already exists")
)
