// Package permission implements the static (resource, action) to role table.
// Anything not explicitly listed is denied; the only override is the Admin
// role, which bypasses the table entirely.
package permission

import (
	"fmt"
	"sort"

	"github.com/opsgate/opsgate/internal/model"
)

// Rule grants a set of roles one action on one resource.
type Rule struct {
	Resource string       `json:"resource"`
	Action   string       `json:"action"`
	Roles    []model.Role `json:"roles"`
}

// Matrix answers role permission lookups. It is immutable after construction
// and safe for concurrent use.
type Matrix struct {
	rules map[string]map[model.Role]struct{}
	list  []Rule
}

func key(resource, action string) string {
	return resource + "\x00" + action
}

// New builds a Matrix from explicit rules.
func New(rules []Rule) *Matrix {
	m := &Matrix{rules: make(map[string]map[model.Role]struct{}, len(rules))}
	for _, r := range rules {
		k := key(r.Resource, r.Action)
		set, ok := m.rules[k]
		if !ok {
			set = make(map[model.Role]struct{}, len(r.Roles))
			m.rules[k] = set
			m.list = append(m.list, Rule{Resource: r.Resource, Action: r.Action})
		}
		for _, role := range r.Roles {
			set[role] = struct{}{}
		}
	}
	// Materialize the merged role sets for Rules().
	for i := range m.list {
		set := m.rules[key(m.list[i].Resource, m.list[i].Action)]
		roles := make([]model.Role, 0, len(set))
		for role := range set {
			roles = append(roles, role)
		}
		sort.Slice(roles, func(a, b int) bool { return roles[a] < roles[b] })
		m.list[i].Roles = roles
	}
	sort.Slice(m.list, func(a, b int) bool {
		if m.list[a].Resource != m.list[b].Resource {
			return m.list[a].Resource < m.list[b].Resource
		}
		return m.list[a].Action < m.list[b].Action
	})
	return m
}

// Default returns the platform's built-in permission table.
func Default() *Matrix {
	return New([]Rule{
		{Resource: "dashboard", Action: "read", Roles: []model.Role{model.RoleAgent, model.RoleOps, model.RoleGuest}},
		{Resource: "dashboard", Action: "write", Roles: []model.Role{model.RoleOps}},
		{Resource: "accounts", Action: "read", Roles: []model.Role{model.RoleAgent, model.RoleOps}},
		{Resource: "accounts", Action: "pause", Roles: []model.Role{model.RoleOps}},
		{Resource: "rules", Action: "read", Roles: []model.Role{model.RoleAgent, model.RoleOps}},
		{Resource: "rules", Action: "write", Roles: []model.Role{model.RoleOps}},
		{Resource: "exports", Action: "read", Roles: []model.Role{model.RoleOps}},
		{Resource: "services", Action: "deploy", Roles: []model.Role{model.RoleOps}},
	})
}

// Allowed reports whether the role may perform action on resource.
// Admin bypasses the table; unmatched pairs are denied.
func (m *Matrix) Allowed(resource, action string, role model.Role) bool {
	if role.IsAdmin() {
		return true
	}
	set, ok := m.rules[key(resource, action)]
	if !ok {
		return false
	}
	_, ok = set[role]
	return ok
}

// SnapshotFor lists every "resource:action" pair the role currently holds.
// Token issuance embeds this snapshot; it is deliberately not re-derived at
// verification time.
func (m *Matrix) SnapshotFor(role model.Role) []string {
	var perms []string
	for _, r := range m.list {
		if m.Allowed(r.Resource, r.Action, role) {
			perms = append(perms, fmt.Sprintf("%s:%s", r.Resource, r.Action))
		}
	}
	return perms
}

// Rules returns the merged rule list, sorted for stable output.
func (m *Matrix) Rules() []Rule {
	out := make([]Rule, len(m.list))
	copy(out, m.list)
	return out
}
