package auth

import (
	"fmt"

	"github.com/elskow/portal/internal/user"
)

// Capability is an action a role may perform. Routes declare the
// capability they need rather than a list of roles.
type Capability string

const (
	CapReviewAccessRequests Capability = "review_access_requests"
	CapDeleteAccessRequests Capability = "delete_access_requests"
	CapReadAuditLog         Capability = "read_audit_log"
	CapViewDashboard        Capability = "view_dashboard"
	CapManageAssignedWork   Capability = "manage_assigned_work"
	CapViewOwnProjects      Capability = "view_own_projects"
)

// AllCapabilities lists every capability in a stable order.
var AllCapabilities = []Capability{
	CapReviewAccessRequests,
	CapDeleteAccessRequests,
	CapReadAuditLog,
	CapViewDashboard,
	CapManageAssignedWork,
	CapViewOwnProjects,
}

// Capabilities returns what role may do. Every user.Role must have a case
// here; an unknown role panics.
func Capabilities(role user.Role) []Capability {
	switch role {
	case user.RoleAdmin:
		return AllCapabilities
	case user.RoleEmployee:
		return []Capability{CapViewDashboard, CapManageAssignedWork}
	case user.RoleClient:
		return []Capability{CapViewDashboard, CapViewOwnProjects}
	}
	panic(fmt.Sprintf("auth: role %q has no capability entry", role))
}

// Can reports whether role holds capability. Invalid roles hold nothing.
func Can(role user.Role, capability Capability) bool {
	if !role.Valid() {
		return false
	}
	for _, c := range Capabilities(role) {
		if c == capability {
			return true
		}
	}
	return false
}

// RolesWith returns the roles holding capability, in user.Roles order.
func RolesWith(capability Capability) []user.Role {
	var roles []user.Role
	for _, r := range user.Roles {
		if Can(r, capability) {
			roles = append(roles, r)
		}
	}
	return roles
}
