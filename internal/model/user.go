package model

import (
	"time"
)

// User represents an operator account in the directory.
type User struct {
	ID                  string     `json:"id"`
	DisplayName         string     `json:"displayName"`
	Role                Role       `json:"role"`
	IPAllowList         []string   `json:"ipAllowList,omitempty"` // nil means any source IP
	MFAEnabled          bool       `json:"mfaEnabled"`
	LastActiveAt        time.Time  `json:"lastActiveAt"`
	CurrentSessionToken *string    `json:"-"` // at most one live session per user
	LockedUntil         *time.Time `json:"-"`
	FailedMFAAttempts   int        `json:"-"`
	Disabled            bool       `json:"disabled"`
	// MinTokenIssuedAt is the per-user watermark: tokens issued before it
	// are rejected at verification. Advanced on role changes.
	MinTokenIssuedAt time.Time `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// IsLocked checks if the account is currently under a temporary lockout.
func (u *User) IsLocked(now time.Time) bool {
	if u.LockedUntil == nil {
		return false
	}
	return now.Before(*u.LockedUntil)
}

// IPAllowed reports whether the source IP passes the allowlist.
// An empty allowlist admits every source.
func (u *User) IPAllowed(ip string) bool {
	if len(u.IPAllowList) == 0 {
		return true
	}
	for _, allowed := range u.IPAllowList {
		if allowed == ip {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores can hand out values without
// sharing mutable slices or pointers with callers.
func (u *User) Clone() *User {
	c := *u
	if u.IPAllowList != nil {
		c.IPAllowList = append([]string(nil), u.IPAllowList...)
	}
	if u.CurrentSessionToken != nil {
		t := *u.CurrentSessionToken
		c.CurrentSessionToken = &t
	}
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		c.LockedUntil = &t
	}
	return &c
}
