// Package auth resolves a user's effective permissions from their role
// bindings and answers authorization checks.
package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/models"
)

// Permission strings checked by the use cases.
const (
	PermissionUserCreate = "user.create"
	PermissionUserRead   = "user.read"
	PermissionUserUpdate = "user.update"
	PermissionUserDelete = "user.delete"

	PermissionRoleCreate = "role.create"
	PermissionRoleRead   = "role.read"
	PermissionRoleUpdate = "role.update"
	PermissionRoleDelete = "role.delete"

	PermissionTicketCreate = "ticket.create"
	PermissionTicketRead   = "ticket.read"
	PermissionTicketUpdate = "ticket.update"
	PermissionTicketDelete = "ticket.delete"

	PermissionTemplateCreate = "ticket_template.create"
	PermissionTemplateRead   = "ticket_template.read"
	PermissionTemplateUpdate = "ticket_template.update"
	PermissionTemplateDelete = "ticket_template.delete"

	PermissionResourceTypeCreate = "resource_type.create"
	PermissionResourceTypeRead   = "resource_type.read"
	PermissionResourceTypeUpdate = "resource_type.update"
	PermissionResourceTypeDelete = "resource_type.delete"

	PermissionResourceEntryCreate = "resource_entry.create"
	PermissionResourceEntryRead   = "resource_entry.read"
	PermissionResourceEntryUpdate = "resource_entry.update"
	PermissionResourceEntryDelete = "resource_entry.delete"
)

// RoleSource is the read side of the role store used by the resolver.
type RoleSource interface {
	ListUserRoles(ctx context.Context, userID int64) ([]models.UserRole, error)
	GetRole(ctx context.Context, id int64) (*models.Role, error)
	GetRoleByName(ctx context.Context, name string) (*models.Role, error)
	ListRoleUsers(ctx context.Context, roleID int64) ([]models.UserRole, error)
}

// PermissionSet is the union of permissions granted to a user.
type PermissionSet map[string]struct{}

// Has reports whether p is granted, directly or by wildcard.
func (s PermissionSet) Has(p string) bool {
	if _, ok := s[models.WildcardPermission]; ok {
		return true
	}
	_, ok := s[p]
	return ok
}

// Satisfies reports whether every required permission is granted.
func (s PermissionSet) Satisfies(required ...string) bool {
	return len(s.Missing(required...)) == 0
}

// Missing returns the required permissions that are not granted.
func (s PermissionSet) Missing(required ...string) []string {
	if _, ok := s[models.WildcardPermission]; ok {
		return nil
	}
	var missing []string
	for _, p := range required {
		if _, ok := s[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// List returns the permissions in sorted order.
func (s PermissionSet) List() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Resolver maps users to permissions through their role bindings.
type Resolver struct {
	roles RoleSource
}

// NewResolver creates a resolver backed by roles.
func NewResolver(roles RoleSource) *Resolver {
	return &Resolver{roles: roles}
}

// Resolve returns the union of permissions across every role bound to userID.
// A binding to a role that no longer exists is an integrity fault.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (PermissionSet, error) {
	bindings, err := r.roles.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles of user %d: %w", userID, err)
	}
	set := make(PermissionSet)
	for _, b := range bindings {
		role, err := r.roles.GetRole(ctx, b.RoleID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return nil, apperrors.Integrity("user_role", b.ID,
					"user %d bound to missing role %d", userID, b.RoleID).Wrap(err)
			}
			return nil, fmt.Errorf("load role %d: %w", b.RoleID, err)
		}
		for _, p := range role.Permissions {
			set[p] = struct{}{}
		}
	}
	return set, nil
}

// Authorize reports whether userID holds every required permission.
// A wildcard grant satisfies any set, including an empty one.
func (r *Resolver) Authorize(ctx context.Context, userID int64, required ...string) (bool, error) {
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Satisfies(required...), nil
}

// Require is Authorize that turns a deny into a PermissionDenied error.
func (r *Resolver) Require(ctx context.Context, userID int64, required ...string) error {
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return err
	}
	if missing := set.Missing(required...); len(missing) > 0 {
		return apperrors.PermissionDenied(userID, "missing permissions: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Holders returns the ids of users bound to any of the named roles, sorted
// and without duplicates. Unknown role names are skipped: a template may name
// a role nobody has created yet.
func (r *Resolver) Holders(ctx context.Context, roleNames ...string) ([]int64, error) {
	seen := make(map[int64]struct{})
	for _, name := range roleNames {
		role, err := r.roles.GetRoleByName(ctx, name)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("load role %q: %w", name, err)
		}
		bindings, err := r.roles.ListRoleUsers(ctx, role.ID)
		if err != nil {
			return nil, fmt.Errorf("list holders of role %q: %w", name, err)
		}
		for _, b := range bindings {
			seen[b.UserID] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Supervisor returns the user userID reports to under the named role, if any.
func (r *Resolver) Supervisor(ctx context.Context, userID int64, roleName string) (*int64, error) {
	role, err := r.roles.GetRoleByName(ctx, roleName)
	if err != nil {
		return nil, err
	}
	bindings, err := r.roles.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		if b.RoleID == role.ID {
			return b.ReportsToID, nil
		}
	}
	return nil, apperrors.NotFound("user_role", fmt.Sprintf("%d/%s", userID, roleName))
}
