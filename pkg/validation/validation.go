// Package validation configures the shared request validator and converts
// its failures into field-scoped application errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/aits-api/internal/models"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
)

// New returns a validator reporting JSON field names and knowing the
// domain enum tags issue_category, issue_status, issue_priority and user_role.
func New() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("issue_category", func(fl validator.FieldLevel) bool {
		return models.IssueCategory(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("issue_status", func(fl validator.FieldLevel) bool {
		return models.IssueStatus(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("issue_priority", func(fl validator.FieldLevel) bool {
		return models.IssuePriority(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("user_role", func(fl validator.FieldLevel) bool {
		return models.UserRole(fl.Field().String()).Valid()
	})
	return v
}

// Error converts a validator failure into a VALIDATION_ERROR with one entry
// per offending field. Other errors are wrapped with message.
func Error(err error, message string) *appErrors.Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe.Namespace())] = describe(fe)
	}
	out := appErrors.Fields(message, fields)
	out.Err = err
	return out
}

func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "eqfield":
		return "does not match " + strings.ToLower(fe.Param())
	case "uuid", "uuid4":
		return "must be a valid id"
	case "issue_category", "issue_status", "issue_priority", "user_role":
		return "is not a valid choice"
	}
	return "is invalid"
}
