package models

import (
	"strings"
	"time"
)

// UserRole represents the role an account holds. A role is fixed at
// registration and never changes afterwards.
type UserRole string

const (
	RoleStudent   UserRole = "student"
	RoleLecturer  UserRole = "lecturer"
	RoleRegistrar UserRole = "registrar"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleLecturer, RoleRegistrar:
		return true
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Lecturer is the directory projection of a lecturer account.
type Lecturer struct {
	ID             string  `db:"id" json:"id"`
	Username       string  `db:"username" json:"username"`
	Email          string  `db:"email" json:"email"`
	FirstName      string  `db:"first_name" json:"first_name"`
	LastName       string  `db:"last_name" json:"last_name"`
	DepartmentID   *string `db:"department_id" json:"department_id,omitempty"`
	DepartmentName *string `db:"department_name" json:"department_name,omitempty"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
