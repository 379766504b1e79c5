package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/models"
)

// MemoryRoleRepository is an in-memory RoleRepository.
type MemoryRoleRepository struct {
	mu        sync.RWMutex
	roles     map[int64]*models.Role
	bindings  map[int64]*models.UserRole
	nextRole  int64
	nextBound int64
}

// NewMemoryRoleRepository creates an empty repository.
func NewMemoryRoleRepository() *MemoryRoleRepository {
	return &MemoryRoleRepository{
		roles:     make(map[int64]*models.Role),
		bindings:  make(map[int64]*models.UserRole),
		nextRole:  1,
		nextBound: 1,
	}
}

// CreateRole stores a role with a unique name.
func (r *MemoryRoleRepository) CreateRole(ctx context.Context, role *models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return apperrors.Validation("role", role.Name, "name already exists")
		}
	}
	role.ID = r.nextRole
	r.nextRole++
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}
	role.UpdatedAt = role.CreatedAt
	r.roles[role.ID] = role.Clone()
	return nil
}

// UpdateRole replaces the description and permissions of a role.
func (r *MemoryRoleRepository) UpdateRole(ctx context.Context, role *models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.roles[role.ID]
	if !ok {
		return apperrors.NotFound("role", role.ID)
	}
	for id, other := range r.roles {
		if id != role.ID && other.Name == role.Name {
			return apperrors.Validation("role", role.Name, "name already exists")
		}
	}
	role.CreatedAt = existing.CreatedAt
	if role.UpdatedAt.IsZero() {
		role.UpdatedAt = time.Now().UTC()
	}
	r.roles[role.ID] = role.Clone()
	return nil
}

// GetRole returns a role by ID.
func (r *MemoryRoleRepository) GetRole(ctx context.Context, id int64) (*models.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roles[id]
	if !ok {
		return nil, apperrors.NotFound("role", id)
	}
	return role.Clone(), nil
}

// GetRoleByName returns a role by its unique name.
func (r *MemoryRoleRepository) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, role := range r.roles {
		if role.Name == name {
			return role.Clone(), nil
		}
	}
	return nil, apperrors.NotFound("role", name)
}

// ListRoles returns every role sorted by name.
func (r *MemoryRoleRepository) ListRoles(ctx context.Context) ([]*models.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AssignUserRole binds a user to an existing role once.
func (r *MemoryRoleRepository) AssignUserRole(ctx context.Context, ur *models.UserRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roles[ur.RoleID]; !ok {
		return apperrors.NotFound("role", ur.RoleID)
	}
	for _, b := range r.bindings {
		if b.UserID == ur.UserID && b.RoleID == ur.RoleID {
			return apperrors.Validation("user_role", ur.UserID, "user already holds role %d", ur.RoleID)
		}
	}
	ur.ID = r.nextBound
	r.nextBound++
	if ur.CreatedAt.IsZero() {
		ur.CreatedAt = time.Now().UTC()
	}
	cp := *ur
	r.bindings[ur.ID] = &cp
	return nil
}

// RevokeUserRole removes a binding.
func (r *MemoryRoleRepository) RevokeUserRole(ctx context.Context, userID, roleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, b := range r.bindings {
		if b.UserID == userID && b.RoleID == roleID {
			delete(r.bindings, id)
			return nil
		}
	}
	return apperrors.NotFound("user_role", userID)
}

// ListUserRoles returns the bindings of a user.
func (r *MemoryRoleRepository) ListUserRoles(ctx context.Context, userID int64) ([]models.UserRole, error) {
	return r.filterBindings(func(b *models.UserRole) bool { return b.UserID == userID }), nil
}

// ListRoleUsers returns the bindings of a role.
func (r *MemoryRoleRepository) ListRoleUsers(ctx context.Context, roleID int64) ([]models.UserRole, error) {
	return r.filterBindings(func(b *models.UserRole) bool { return b.RoleID == roleID }), nil
}

func (r *MemoryRoleRepository) filterBindings(keep func(*models.UserRole) bool) []models.UserRole {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []models.UserRole{}
	for _, b := range r.bindings {
		if keep(b) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
