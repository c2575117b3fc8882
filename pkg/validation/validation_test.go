package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/aits-api/pkg/errors"
)

type nested struct {
	College string `json:"college" validate:"required"`
}

type payload struct {
	Email    string  `json:"email" validate:"required,email"`
	Category string  `json:"category" validate:"required,issue_category"`
	Nested   *nested `json:"student_data" validate:"omitempty"`
}

func TestErrorUsesJSONFieldPaths(t *testing.T) {
	v := New()
	err := v.Struct(payload{Email: "nope", Category: "parking", Nested: &nested{}})
	require.Error(t, err)

	appErr := Error(err, "invalid payload")
	assert.True(t, errors.Is(appErr, appErrors.ErrValidation))
	assert.Equal(t, "invalid payload", appErr.Message)
	assert.Equal(t, "must be a valid email address", appErr.Fields["email"])
	assert.Equal(t, "is not a valid choice", appErr.Fields["category"])
	assert.Equal(t, "this field is required", appErr.Fields["student_data.college"])
}

func TestDomainTagsAcceptKnownValues(t *testing.T) {
	v := New()
	assert.NoError(t, v.Struct(payload{Email: "a@b.co", Category: "examination"}))
}

func TestErrorWrapsNonValidatorErrors(t *testing.T) {
	appErr := Error(errors.New("boom"), "bad")
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Nil(t, appErr.Fields)
}
