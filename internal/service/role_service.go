package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/auth"
	"github.com/officeflow/officeflow/internal/models"
	"github.com/officeflow/officeflow/internal/repository"
)

// AdminRole is created by Bootstrap and holds every permission.
const AdminRole = "admin"

// RoleService manages roles and user bindings.
type RoleService struct {
	roles    repository.RoleRepository
	resolver *auth.Resolver
	logger   *zap.Logger
	now      func() time.Time
}

// NewRoleService creates a role service.
func NewRoleService(roles repository.RoleRepository, resolver *auth.Resolver, logger *zap.Logger) *RoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleService{
		roles:    roles,
		resolver: resolver,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Bootstrap creates the admin role and binds adminUserID to it when no
// role exists yet. It reports whether anything was created.
func (s *RoleService) Bootstrap(ctx context.Context, adminUserID int64) (bool, error) {
	existing, err := s.roles.ListRoles(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	now := s.now()
	role := &models.Role{
		Name:        AdminRole,
		Description: "Full access",
		Permissions: []string{models.WildcardPermission},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.roles.CreateRole(ctx, role); err != nil {
		return false, err
	}
	if err := s.roles.AssignUserRole(ctx, &models.UserRole{UserID: adminUserID, RoleID: role.ID, CreatedAt: now}); err != nil {
		return false, err
	}
	s.logger.Info("bootstrapped admin role", zap.Int64("role_id", role.ID), zap.Int64("user_id", adminUserID))
	return true, nil
}

// CreateRole stores a new role.
func (s *RoleService) CreateRole(ctx context.Context, actor int64, role *models.Role) error {
	if err := s.resolver.Require(ctx, actor, auth.PermissionRoleCreate); err != nil {
		return err
	}
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return apperrors.Validation("role", nil, "name is required")
	}
	now := s.now()
	role.CreatedAt = now
	role.UpdatedAt = now
	return s.roles.CreateRole(ctx, role)
}

// ListRoles returns every role.
func (s *RoleService) ListRoles(ctx context.Context, actor int64) ([]*models.Role, error) {
	if err := s.resolver.Require(ctx, actor, auth.PermissionRoleRead); err != nil {
		return nil, err
	}
	return s.roles.ListRoles(ctx)
}

// GrantRole binds userID to the named role, optionally under a supervisor.
func (s *RoleService) GrantRole(ctx context.Context, actor, userID int64, roleName string, reportsTo *int64) error {
	if err := s.resolver.Require(ctx, actor, auth.PermissionRoleUpdate); err != nil {
		return err
	}
	role, err := s.roles.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	if reportsTo != nil && *reportsTo == userID {
		return apperrors.Validation("user_role", userID, "a user cannot report to themselves")
	}
	return s.roles.AssignUserRole(ctx, &models.UserRole{
		UserID:      userID,
		RoleID:      role.ID,
		ReportsToID: reportsTo,
		CreatedAt:   s.now(),
	})
}

// RevokeRole removes the binding of userID to the named role.
func (s *RoleService) RevokeRole(ctx context.Context, actor, userID int64, roleName string) error {
	if err := s.resolver.Require(ctx, actor, auth.PermissionRoleUpdate); err != nil {
		return err
	}
	role, err := s.roles.GetRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	return s.roles.RevokeUserRole(ctx, userID, role.ID)
}

// Permissions returns the effective permissions of userID.
func (s *RoleService) Permissions(ctx context.Context, userID int64) ([]string, error) {
	set, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return set.List(), nil
}

// Supervisor returns who userID reports to under roleName.
func (s *RoleService) Supervisor(ctx context.Context, actor, userID int64, roleName string) (*int64, error) {
	if err := s.resolver.Require(ctx, actor, auth.PermissionRoleRead); err != nil {
		return nil, err
	}
	return s.resolver.Supervisor(ctx, userID, roleName)
}
