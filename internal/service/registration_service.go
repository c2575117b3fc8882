package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/aits-api/internal/models"
	"github.com/noah-isme/aits-api/internal/repository"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
	"github.com/noah-isme/aits-api/pkg/validation"
)

const (
	msgEmailTaken    = "This email is already registered"
	msgUsernameTaken = "This username is already taken"
)

type registrationRepository interface {
	Taken(ctx context.Context, email, username string) (bool, bool, error)
	Register(ctx context.Context, user *models.User, department models.Department, profile *models.Profile) error
}

// RegistrationService creates accounts together with their role profile.
type RegistrationService struct {
	repo      registrationRepository
	validator *validator.Validate
	logger    *zap.Logger
	cost      int
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(repo registrationRepository, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validation.New()
	}
	return &RegistrationService{repo: repo, validator: validate, logger: logger, cost: bcrypt.DefaultCost}
}

// Register validates the request, rejects duplicates and stores the user,
// its department and profile atomically.
func (s *RegistrationService) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid registration payload")
	}
	department, profile, fields := roleProfile(req)
	if len(fields) > 0 {
		return nil, appErrors.Fields("invalid registration payload", fields)
	}

	emailTaken, usernameTaken, err := s.repo.Taken(ctx, req.Email, req.Username)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing accounts")
	}
	if emailTaken || usernameTaken {
		dup := map[string]string{}
		if emailTaken {
			dup["email"] = msgEmailTaken
		}
		if usernameTaken {
			dup["username"] = msgUsernameTaken
		}
		return nil, appErrors.Fields("account already exists", dup)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		Active:       true,
	}
	if err := s.repo.Register(ctx, user, department, profile); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, appErrors.Field("email", msgEmailTaken)
		case errors.Is(err, repository.ErrDuplicateUsername):
			return nil, appErrors.Field("username", msgUsernameTaken)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register user")
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	info := models.NewUserInfo(user, profile)
	return &info, nil
}

// roleProfile checks the role-specific block against the choice sets and
// builds the department and profile to persist.
func roleProfile(req models.RegisterRequest) (models.Department, *models.Profile, map[string]string) {
	fields := map[string]string{}
	var (
		deptName string
		profile  = &models.Profile{}
	)

	switch req.Role {
	case models.RoleStudent:
		data := req.StudentData
		if data == nil {
			fields["student_data"] = "student data is required"
			break
		}
		checkChoice(fields, "student_data.college", data.College, models.Colleges)
		checkChoice(fields, "student_data.course", data.Course, models.Courses)
		checkChoice(fields, "student_data.year_of_study", data.YearOfStudy, models.YearsOfStudy)
		deptName = strings.TrimSpace(data.Department)
		if deptName == "" {
			fields["student_data.department"] = "this field is required"
		}
		profile.Student = &models.StudentProfile{College: data.College, Course: data.Course, YearOfStudy: data.YearOfStudy}
	case models.RoleLecturer:
		data := req.LecturerData
		if data == nil {
			fields["lecturer_data"] = "lecturer data is required"
			break
		}
		deptName = strings.TrimSpace(data.Department)
		if deptName == "" {
			fields["lecturer_data.department"] = "this field is required"
		}
		profile.Lecturer = &models.LecturerProfile{}
	case models.RoleRegistrar:
		data := req.RegistrarData
		if data == nil {
			fields["registrar_data"] = "registrar data is required"
			break
		}
		checkChoice(fields, "registrar_data.college", data.College, models.Colleges)
		deptName = strings.TrimSpace(data.Department)
		if deptName == "" {
			fields["registrar_data.department"] = "this field is required"
		}
		profile.Registrar = &models.RegistrarProfile{College: data.College}
	default:
		fields["role"] = "is not a valid choice"
	}

	dept := models.Department{Name: deptName, Faculty: models.FacultyFor(deptName)}
	return dept, profile, fields
}

func checkChoice(fields map[string]string, name, value string, choices []string) {
	if !models.Contains(choices, value) {
		fields[name] = "is not a valid choice"
	}
}
