package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/officeflow/officeflow/internal/apperrors"
	"github.com/officeflow/officeflow/internal/database"
	"github.com/officeflow/officeflow/internal/models"
)

const (
	roleColumns     = "id, name, description, permissions, created_at, updated_at"
	userRoleColumns = "id, user_id, role_id, reports_to_id, created_at"
)

type roleRow struct {
	ID          int64          `db:"id"`
	Name        string         `db:"name"`
	Description sql.NullString `db:"description"`
	Permissions []byte         `db:"permissions"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r roleRow) toModel() (*models.Role, error) {
	role := &models.Role{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description.String,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Permissions, &role.Permissions); err != nil {
		return nil, apperrors.Integrity("role", r.ID, "malformed permissions column").Wrap(err)
	}
	return role, nil
}

// SQLRoleRepository stores roles and user bindings in the roles and
// user_roles tables.
type SQLRoleRepository struct {
	qb *database.QueryBuilder
}

// NewSQLRoleRepository creates a repository on qb.
func NewSQLRoleRepository(qb *database.QueryBuilder) *SQLRoleRepository {
	return &SQLRoleRepository{qb: qb}
}

// CreateRole inserts a role with a unique name.
func (r *SQLRoleRepository) CreateRole(ctx context.Context, role *models.Role) error {
	perms, err := json.Marshal(permissionList(role.Permissions))
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}
	role.UpdatedAt = role.CreatedAt
	id, err := r.qb.InsertContext(ctx,
		"INSERT INTO roles (name, description, permissions, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		role.Name, role.Description, perms, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Validation("role", role.Name, "name already exists")
		}
		return fmt.Errorf("insert role: %w", err)
	}
	role.ID = id
	return nil
}

// UpdateRole rewrites name, description and permissions.
func (r *SQLRoleRepository) UpdateRole(ctx context.Context, role *models.Role) error {
	perms, err := json.Marshal(permissionList(role.Permissions))
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	if role.UpdatedAt.IsZero() {
		role.UpdatedAt = time.Now().UTC()
	}
	res, err := r.qb.ExecContext(ctx,
		"UPDATE roles SET name = ?, description = ?, permissions = ?, updated_at = ? WHERE id = ?",
		role.Name, role.Description, perms, role.UpdatedAt, role.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Validation("role", role.Name, "name already exists")
		}
		return fmt.Errorf("update role %d: %w", role.ID, err)
	}
	return requireAffected(res, "role", role.ID)
}

// GetRole loads a role by ID.
func (r *SQLRoleRepository) GetRole(ctx context.Context, id int64) (*models.Role, error) {
	return r.getRole(ctx, "id = ?", id)
}

// GetRoleByName loads a role by name.
func (r *SQLRoleRepository) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	return r.getRole(ctx, "name = ?", name)
}

func (r *SQLRoleRepository) getRole(ctx context.Context, where string, arg interface{}) (*models.Role, error) {
	var row roleRow
	err := r.qb.GetContext(ctx, &row, "SELECT "+roleColumns+" FROM roles WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("role", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get role %v: %w", arg, err)
	}
	return row.toModel()
}

// ListRoles returns every role sorted by name.
func (r *SQLRoleRepository) ListRoles(ctx context.Context) ([]*models.Role, error) {
	var rows []roleRow
	if err := r.qb.SelectContext(ctx, &rows, "SELECT "+roleColumns+" FROM roles ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	out := make([]*models.Role, 0, len(rows))
	for _, row := range rows {
		role, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

// AssignUserRole binds a user to a role.
func (r *SQLRoleRepository) AssignUserRole(ctx context.Context, ur *models.UserRole) error {
	if ur.CreatedAt.IsZero() {
		ur.CreatedAt = time.Now().UTC()
	}
	id, err := r.qb.InsertContext(ctx,
		"INSERT INTO user_roles (user_id, role_id, reports_to_id, created_at) VALUES (?, ?, ?, ?)",
		ur.UserID, ur.RoleID, ur.ReportsToID, ur.CreatedAt)
	switch {
	case err == nil:
	case database.IsUniqueViolation(err):
		return apperrors.Validation("user_role", ur.UserID, "user already holds role %d", ur.RoleID)
	case database.IsForeignKeyViolation(err):
		return apperrors.NotFound("role", ur.RoleID)
	default:
		return fmt.Errorf("insert user role: %w", err)
	}
	ur.ID = id
	return nil
}

// RevokeUserRole removes a binding.
func (r *SQLRoleRepository) RevokeUserRole(ctx context.Context, userID, roleID int64) error {
	res, err := r.qb.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id = ? AND role_id = ?", userID, roleID)
	if err != nil {
		return fmt.Errorf("revoke role %d from user %d: %w", roleID, userID, err)
	}
	return requireAffected(res, "user_role", userID)
}

// ListUserRoles returns the bindings of a user.
func (r *SQLRoleRepository) ListUserRoles(ctx context.Context, userID int64) ([]models.UserRole, error) {
	out := []models.UserRole{}
	if err := r.qb.SelectContext(ctx, &out,
		"SELECT "+userRoleColumns+" FROM user_roles WHERE user_id = ? ORDER BY id", userID); err != nil {
		return nil, fmt.Errorf("list roles of user %d: %w", userID, err)
	}
	return out, nil
}

// ListRoleUsers returns the bindings of a role.
func (r *SQLRoleRepository) ListRoleUsers(ctx context.Context, roleID int64) ([]models.UserRole, error) {
	out := []models.UserRole{}
	if err := r.qb.SelectContext(ctx, &out,
		"SELECT "+userRoleColumns+" FROM user_roles WHERE role_id = ? ORDER BY id", roleID); err != nil {
		return nil, fmt.Errorf("list users of role %d: %w", roleID, err)
	}
	return out, nil
}

func permissionList(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}
