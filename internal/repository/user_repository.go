package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/aits-api/internal/models"
	"github.com/noah-isme/aits-api/pkg/database"
)

var (
	// ErrDuplicateEmail reports a unique violation on users.email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateUsername reports a unique violation on users.username.
	ErrDuplicateUsername = errors.New("username already taken")
)

const userColumns = `id, username, email, password_hash, first_name, last_name, role, active, last_login, created_at, updated_at`

// UserRepository provides database access for accounts, role profiles and
// refresh token sessions.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByIdentifier returns a user matching a username or a (case-insensitive) email.
func (r *UserRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 OR email = LOWER($1) LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, strings.TrimSpace(identifier)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by identifier: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// Taken reports whether the email and/or username are already registered.
func (r *UserRepository) Taken(ctx context.Context, email, username string) (emailTaken, usernameTaken bool, err error) {
	const query = `SELECT
		EXISTS(SELECT 1 FROM users WHERE email = LOWER($1)) AS email_taken,
		EXISTS(SELECT 1 FROM users WHERE username = $2) AS username_taken`
	var row struct {
		EmailTaken    bool `db:"email_taken"`
		UsernameTaken bool `db:"username_taken"`
	}
	if err := r.db.GetContext(ctx, &row, query, email, username); err != nil {
		return false, false, fmt.Errorf("check duplicate user: %w", err)
	}
	return row.EmailTaken, row.UsernameTaken, nil
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// Register creates the user, resolves (or creates) the named department and
// stores the role profile in one transaction. Any failure leaves no rows
// behind.
func (r *UserRepository) Register(ctx context.Context, user *models.User, department models.Department, profile *models.Profile) error {
	if err := profile.Validate(user.Role); err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Email = strings.ToLower(user.Email)

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const insertUser = `INSERT INTO users (id, username, email, password_hash, first_name, last_name, role, active, created_at, updated_at) VALUES (:id, :username, :email, :password_hash, :first_name, :last_name, :role, :active, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insertUser, user); err != nil {
			return mapUserConstraint(err)
		}

		dept, err := getOrCreateDepartment(ctx, tx, department)
		if err != nil {
			return err
		}
		profile.SetUserID(user.ID)
		profile.SetDepartmentID(dept.ID)

		return insertProfile(ctx, tx, profile)
	})
}

func getOrCreateDepartment(ctx context.Context, tx *sqlx.Tx, dept models.Department) (*models.Department, error) {
	if dept.ID == "" {
		dept.ID = uuid.NewString()
	}
	if dept.CreatedAt.IsZero() {
		dept.CreatedAt = time.Now().UTC()
	}
	const insert = `INSERT INTO departments (id, name, faculty, created_at) VALUES (:id, :name, :faculty, :created_at) ON CONFLICT (name) DO NOTHING`
	if _, err := tx.NamedExecContext(ctx, insert, dept); err != nil {
		return nil, fmt.Errorf("create department: %w", err)
	}
	const query = `SELECT id, name, faculty, created_at FROM departments WHERE name = $1`
	var stored models.Department
	if err := tx.GetContext(ctx, &stored, query, dept.Name); err != nil {
		return nil, fmt.Errorf("load department: %w", err)
	}
	return &stored, nil
}

func insertProfile(ctx context.Context, tx *sqlx.Tx, profile *models.Profile) error {
	var (
		query string
		arg   interface{}
	)
	switch {
	case profile.Student != nil:
		query = `INSERT INTO student_profiles (user_id, college, department_id, course, year_of_study) VALUES (:user_id, :college, :department_id, :course, :year_of_study)`
		arg = profile.Student
	case profile.Lecturer != nil:
		query = `INSERT INTO lecturer_profiles (user_id, department_id) VALUES (:user_id, :department_id)`
		arg = profile.Lecturer
	case profile.Registrar != nil:
		query = `INSERT INTO registrar_profiles (user_id, college, department_id) VALUES (:user_id, :college, :department_id)`
		arg = profile.Registrar
	default:
		return fmt.Errorf("create profile: no variant set")
	}
	if _, err := tx.NamedExecContext(ctx, query, arg); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func mapUserConstraint(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "users_email_key":
			return ErrDuplicateEmail
		case "users_username_key":
			return ErrDuplicateUsername
		}
	}
	return fmt.Errorf("create user: %w", err)
}

// FindProfile loads the role profile of a user. A missing profile yields
// sql.ErrNoRows.
func (r *UserRepository) FindProfile(ctx context.Context, userID string, role models.UserRole) (*models.Profile, error) {
	var (
		profile models.Profile
		err     error
	)
	switch role {
	case models.RoleStudent:
		var p models.StudentProfile
		err = r.db.GetContext(ctx, &p, `SELECT sp.user_id, sp.college, sp.department_id, d.name AS department_name, sp.course, sp.year_of_study FROM student_profiles sp JOIN departments d ON d.id = sp.department_id WHERE sp.user_id = $1`, userID)
		profile.Student = &p
	case models.RoleLecturer:
		var p models.LecturerProfile
		err = r.db.GetContext(ctx, &p, `SELECT lp.user_id, lp.department_id, d.name AS department_name FROM lecturer_profiles lp JOIN departments d ON d.id = lp.department_id WHERE lp.user_id = $1`, userID)
		profile.Lecturer = &p
	case models.RoleRegistrar:
		var p models.RegistrarProfile
		err = r.db.GetContext(ctx, &p, `SELECT rp.user_id, rp.college, rp.department_id, d.name AS department_name FROM registrar_profiles rp JOIN departments d ON d.id = rp.department_id WHERE rp.user_id = $1`, userID)
		profile.Registrar = &p
	default:
		return nil, fmt.Errorf("find profile: unknown role %q", role)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return &profile, nil
}

// ListLecturers returns active lecturers, optionally limited to one department.
func (r *UserRepository) ListLecturers(ctx context.Context, departmentID string) ([]models.Lecturer, error) {
	query := `SELECT u.id, u.username, u.email, u.first_name, u.last_name, lp.department_id, d.name AS department_name
		FROM users u
		LEFT JOIN lecturer_profiles lp ON lp.user_id = u.id
		LEFT JOIN departments d ON d.id = lp.department_id
		WHERE u.role = $1 AND u.active = TRUE`
	args := []interface{}{models.RoleLecturer}
	if departmentID != "" {
		query += ` AND lp.department_id = $2`
		args = append(args, departmentID)
	}
	query += ` ORDER BY u.first_name, u.last_name`

	var lecturers []models.Lecturer
	if err := r.db.SelectContext(ctx, &lecturers, query, args...); err != nil {
		return nil, fmt.Errorf("list lecturers: %w", err)
	}
	return lecturers, nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :user_id, :token_hash, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by its hash.
func (r *UserRepository) FindRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token_hash, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token_hash = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes all live refresh tokens for a user.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}
