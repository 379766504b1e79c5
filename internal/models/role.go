package models

import "time"

// WildcardPermission grants every permission.
const WildcardPermission = "*"

// Role is a named permission set.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserRole binds a user to a role, optionally under a supervisor for that role.
type UserRole struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	RoleID      int64     `json:"role_id" db:"role_id"`
	ReportsToID *int64    `json:"reports_to_id,omitempty" db:"reports_to_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Clone returns a copy of r with its own permission slice.
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	return &cp
}
