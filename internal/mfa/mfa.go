// Package mfa defines the external step-up verification collaborator.
// The core only depends on the Verifier interface; the code's format and
// delivery are the collaborator's business.
package mfa

import (
	"context"
	"sync"
)

// Result is the outcome of an OTP verification.
type Result struct {
	Valid  bool
	Reason string
}

// Verifier checks a one-time code for a user.
type Verifier interface {
	VerifyOTP(ctx context.Context, userID, code string) (Result, error)
}

// StaticVerifier matches codes against a fixed per-user table. Used in
// tests and bootstrap mode; never in production.
type StaticVerifier struct {
	mu    sync.RWMutex
	codes map[string]string
}

// NewStaticVerifier creates a StaticVerifier from a userID to code map.
func NewStaticVerifier(codes map[string]string) *StaticVerifier {
	c := make(map[string]string, len(codes))
	for k, v := range codes {
		c[k] = v
	}
	return &StaticVerifier{codes: c}
}

// SetCode sets the expected code for a user.
func (v *StaticVerifier) SetCode(userID, code string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.codes[userID] = code
}

// VerifyOTP compares against the fixed table.
func (v *StaticVerifier) VerifyOTP(ctx context.Context, userID, code string) (Result, error) {
	v.mu.RLock()
	expected, ok := v.codes[userID]
	v.mu.RUnlock()
	if !ok {
		return Result{Reason: "no code enrolled"}, nil
	}
	if expected != code {
		return Result{Reason: "code mismatch"}, nil
	}
	return Result{Valid: true}, nil
}
