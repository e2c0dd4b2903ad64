package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConflictClass(t *testing.T) {
	for _, err := range []error{ErrInvalidState, ErrAlreadyQueued, ErrLockTimeout} {
		assert.ErrorIs(t, err, ErrConflict, err.Error())
		assert.Equal(t, http.StatusConflict, HTTPStatus(fmt.Errorf("op: %w", err)))
	}
	assert.NotErrorIs(t, ErrForbidden, ErrConflict)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		ErrInputInvalid:               http.StatusBadRequest,
		ErrUnauthorized:               http.StatusUnauthorized,
		ErrForbidden:                  http.StatusForbidden,
		ErrNotFound:                   http.StatusNotFound,
		errors.New("connection reset"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
	assert.True(t, IsClientError(ErrNotFound))
	assert.False(t, IsClientError(errors.New("boom")))
}
