package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
}

func TestCloneMatchesOriginal(t *testing.T) {
	clone := Clone(ErrForbidden, "not your issue")
	assert.True(t, errors.Is(clone, ErrForbidden))
	assert.False(t, errors.Is(clone, ErrNotFound))
	assert.Equal(t, "forbidden", ErrForbidden.Message)
}

func TestFieldScopedValidation(t *testing.T) {
	err := Field("email", "email already exists")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, map[string]string{"email": "email already exists"}, err.Fields)
	assert.Nil(t, ErrValidation.Fields)
}
