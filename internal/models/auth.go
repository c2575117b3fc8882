package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials. Identifier is a username or an email.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	IP         string `json:"-"`
	UserAgent  string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the rotated tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// LogoutRequest revokes a refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// StudentRegistration carries the student-only registration fields.
type StudentRegistration struct {
	College     string `json:"college" validate:"required"`
	Department  string `json:"department" validate:"required,max=100"`
	Course      string `json:"course" validate:"required"`
	YearOfStudy string `json:"year_of_study" validate:"required"`
}

// LecturerRegistration carries the lecturer-only registration fields.
type LecturerRegistration struct {
	Department string `json:"department" validate:"required,max=100"`
}

// RegistrarRegistration carries the registrar-only registration fields.
type RegistrarRegistration struct {
	College    string `json:"college" validate:"required"`
	Department string `json:"department" validate:"required,max=100"`
}

// RegisterRequest creates an account together with its role profile.
type RegisterRequest struct {
	Username        string                 `json:"username" validate:"required,min=3,max=150"`
	Email           string                 `json:"email" validate:"required,email,max=254"`
	Password        string                 `json:"password" validate:"required,min=8,max=128"`
	ConfirmPassword string                 `json:"confirm_password" validate:"omitempty,eqfield=Password"`
	FirstName       string                 `json:"first_name" validate:"required,max=150"`
	LastName        string                 `json:"last_name" validate:"max=150"`
	Role            UserRole               `json:"role" validate:"required,oneof=student lecturer registrar"`
	StudentData     *StudentRegistration   `json:"student_data,omitempty"`
	LecturerData    *LecturerRegistration  `json:"lecturer_data,omitempty"`
	RegistrarData   *RegistrarRegistration `json:"registrar_data,omitempty"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Role      UserRole `json:"role"`
	Profile   *Profile `json:"profile,omitempty"`
}

// NewUserInfo projects a user and optional profile for responses.
func NewUserInfo(u *User, p *Profile) UserInfo {
	return UserInfo{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		Profile:   p,
	}
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID       string   `json:"user_id"`
	Role         UserRole `json:"role"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	DepartmentID string   `json:"department_id,omitempty"`
	jwt.RegisteredClaims
}
