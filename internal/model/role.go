package model

import "fmt"

// Role is a user's position in the operations platform.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleAgent Role = "agent"
	RoleOps   Role = "ops"
	RoleGuest Role = "guest"
)

// Roles lists all valid roles.
func Roles() []Role {
	return []Role{RoleAdmin, RoleAgent, RoleOps, RoleGuest}
}

// ParseRole converts a string into a Role, rejecting unknown names.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleAgent, RoleOps, RoleGuest:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// IsAdmin reports whether the role carries the implicit matrix bypass.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}
