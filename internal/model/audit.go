package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Outcome classifies how an audited operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Audit action constants for lifecycle events the core itself records.
// Access decisions carry the caller-supplied action verbatim.
const (
	AuditActionUserCreate     = "user.create"
	AuditActionUserSetRole    = "user.set_role"
	AuditActionUserLock       = "user.lock"
	AuditActionUserUnlock     = "user.unlock"
	AuditActionUserDeactivate = "user.deactivate"
	AuditActionTokenIssue     = "token.issue"
	AuditActionTokenRevoke    = "token.revoke"
	AuditActionTokenRefresh   = "token.refresh"
	AuditActionSecretRotate   = "secret.rotate"
	AuditActionMFAChallenge   = "mfa.challenge"
	AuditActionMFAVerify      = "mfa.verify"
	AuditActionMFAEnroll      = "mfa.enroll"
)

// AuditEntry is one immutable row of the hash-chained trail.
// ChainHash covers PrevHash plus the canonical serialization of the row;
// editing any historical field breaks every hash at or after it.
type AuditEntry struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	ActorID   string    `json:"actorId"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Details   string    `json:"details,omitempty"`
	PrevHash  string    `json:"prevHash"`
	ChainHash string    `json:"chainHash"`
}

// Canonical returns the deterministic serialization hashed into the chain.
// Fields are length-framed in a fixed order so the encoding is unambiguous;
// the timestamp is pinned to UTC nanoseconds. Changing this format breaks
// verification of existing trails.
func (e *AuditEntry) Canonical() []byte {
	fields := []string{
		e.ID,
		fmt.Sprintf("%d", e.Seq),
		fmt.Sprintf("%d", e.Timestamp.UTC().UnixNano()),
		e.ActorID,
		e.Action,
		e.Resource,
		e.IP,
		string(e.Outcome),
		e.Details,
	}
	var buf []byte
	for _, f := range fields {
		buf = append(buf, fmt.Sprintf("%d:", len(f))...)
		buf = append(buf, f...)
	}
	return buf
}

// ComputeChainHash derives the hash for an entry given its predecessor's hash.
// The genesis entry uses an empty predecessor.
func ComputeChainHash(prevHash string, e *AuditEntry) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(e.Canonical())
	return hex.EncodeToString(h.Sum(nil))
}
