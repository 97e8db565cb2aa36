// Package roles holds the principal -> role mapping and the fixed
// role -> permission table: a mutex-guarded in-memory map with idempotent
// CRUD, deliberately without a relation-tuple graph — ChainGuard's role
// set is closed and flat, not a graph.
package roles

import (
	"sync"

	"github.com/chainguard/core/pkg/contracts"
)

type Store struct {
	mu          sync.RWMutex
	assignments map[contracts.Principal]map[contracts.Role]struct{}
}

func New() *Store {
	return &Store{assignments: make(map[contracts.Principal]map[contracts.Role]struct{})}
}

// Assign grants a role. Adding a role already held is a no-op success.
func (s *Store) Assign(p contracts.Principal, role contracts.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.assignments[p]
	if !ok {
		set = make(map[contracts.Role]struct{})
		s.assignments[p] = set
	}
	set[role] = struct{}{}
}

// Revoke removes a role. Revoking a role not held is a no-op success.
func (s *Store) Revoke(p contracts.Principal, role contracts.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.assignments[p]; ok {
		delete(set, role)
	}
}

// RolesOf returns the roles a principal currently holds.
func (s *Store) RolesOf(p contracts.Principal) []contracts.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.assignments[p]
	out := make([]contracts.Role, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	return out
}

// ListAssignments returns every principal with at least one role.
func (s *Store) ListAssignments() map[contracts.Principal][]contracts.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[contracts.Principal][]contracts.Role, len(s.assignments))
	for p, set := range s.assignments {
		roles := make([]contracts.Role, 0, len(set))
		for r := range set {
			roles = append(roles, r)
		}
		out[p] = roles
	}
	return out
}

// HasPermission derives a permission check from the fixed role->permission
// table. Owner holds every permission; other roles are looked up in
// contracts.RolePermissions.
func (s *Store) HasPermission(p contracts.Principal, perm contracts.Permission) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for role := range s.assignments[p] {
		if role == contracts.RoleOwner {
			return true
		}
		if _, ok := contracts.RolePermissions[role][perm]; ok {
			return true
		}
	}
	return false
}

// HasRole reports whether a principal holds a specific role, used by the
// dispatcher's optional from_roles eligibility check.
func (s *Store) HasRole(p contracts.Principal, role contracts.Role) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.assignments[p][role]
	return ok
}

// Bootstrap grants Owner to the installing principal. It is the only path
// by which a role can exist without a Configure-authorized caller, and is
// meant to be called exactly once, from initialize(config).
func (s *Store) Bootstrap(installer contracts.Principal) {
	s.Assign(installer, contracts.RoleOwner)
}
