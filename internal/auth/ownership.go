package auth

import (
	"github.com/google/uuid"

	"github.com/elskow/portal/internal/user"
)

// Resource is a sub-resource (task, project) with an optional owner and
// assignee.
type Resource struct {
	OwnerID    *uuid.UUID
	AssigneeID *uuid.UUID
}

// CanAccessResource applies the ownership rule: admins access everything,
// others only what they own or are assigned to, and employees may also
// pick up unassigned work.
func CanAccessResource(u *user.User, r Resource) bool {
	if u == nil || !u.IsActive {
		return false
	}

	switch u.Role {
	case user.RoleAdmin:
		return true
	case user.RoleEmployee:
		if r.AssigneeID == nil {
			return true
		}
	case user.RoleClient:
	default:
		return false
	}

	if r.OwnerID != nil && *r.OwnerID == u.ID {
		return true
	}
	return r.AssigneeID != nil && *r.AssigneeID == u.ID
}
