package roles

import (
	"testing"

	"github.com/chainguard/core/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignIsIdempotent(t *testing.T) {
	s := New()
	s.Assign("alice", contracts.RoleOperator)
	s.Assign("alice", contracts.RoleOperator)

	roles := s.RolesOf("alice")
	require.Len(t, roles, 1)
	assert.Equal(t, contracts.RoleOperator, roles[0])
}

func TestRevokeOfUnheldRoleIsNoop(t *testing.T) {
	s := New()
	s.Revoke("bob", contracts.RoleViewer)
	assert.Empty(t, s.RolesOf("bob"))
}

func TestOwnerHasEveryPermission(t *testing.T) {
	s := New()
	s.Bootstrap("root")
	for _, perm := range contracts.AllPermissions {
		assert.True(t, s.HasPermission("root", perm), "owner missing %s", perm)
	}
}

func TestOperatorPermissions(t *testing.T) {
	s := New()
	s.Assign("op", contracts.RoleOperator)

	assert.True(t, s.HasPermission("op", contracts.PermExecute))
	assert.True(t, s.HasPermission("op", contracts.PermSign))
	assert.True(t, s.HasPermission("op", contracts.PermViewLogs))
	assert.False(t, s.HasPermission("op", contracts.PermConfigure))
	assert.False(t, s.HasPermission("op", contracts.PermEmergency))
}

func TestViewerOnlyViewsLogs(t *testing.T) {
	s := New()
	s.Assign("v", contracts.RoleViewer)

	assert.True(t, s.HasPermission("v", contracts.PermViewLogs))
	assert.False(t, s.HasPermission("v", contracts.PermExecute))
}

func TestRevokeRemovesPermission(t *testing.T) {
	s := New()
	s.Assign("op", contracts.RoleOperator)
	s.Revoke("op", contracts.RoleOperator)

	assert.False(t, s.HasPermission("op", contracts.PermExecute))
	assert.Empty(t, s.RolesOf("op"))
}

func TestHasRole(t *testing.T) {
	s := New()
	s.Assign("op", contracts.RoleOperator)

	assert.True(t, s.HasRole("op", contracts.RoleOperator))
	assert.False(t, s.HasRole("op", contracts.RoleOwner))
}

func TestListAssignments(t *testing.T) {
	s := New()
	s.Assign("a", contracts.RoleOwner)
	s.Assign("b", contracts.RoleViewer)

	all := s.ListAssignments()
	require.Len(t, all, 2)
	assert.Contains(t, all, contracts.Principal("a"))
	assert.Contains(t, all, contracts.Principal("b"))
}
