package model

import "time"

// Secret is a keyed secret value with rotation metadata.
type Secret struct {
	Key       string     `json:"key"`
	Value     []byte     `json:"-"` // never expose secret material
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	RotatedAt *time.Time `json:"rotatedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// IsExpired checks if the secret has passed its expiry.
func (s *Secret) IsExpired(now time.Time) bool {
	if s.ExpiresAt == nil {
		return false
	}
	return now.After(*s.ExpiresAt)
}

// SecretInfo is the public view of a secret (no material).
type SecretInfo struct {
	Key       string     `json:"key"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	RotatedAt *time.Time `json:"rotatedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// ToInfo converts a Secret to its public-safe representation.
func (s *Secret) ToInfo() *SecretInfo {
	return &SecretInfo{
		Key:       s.Key,
		Version:   s.Version,
		CreatedAt: s.CreatedAt,
		RotatedAt: s.RotatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}
