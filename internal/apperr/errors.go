// Package apperr defines the error taxonomy shared by the queue, inventory
// and reservation layers. Handlers translate these sentinels into HTTP
// status codes; background workers only log them.
package apperr

import (
	"errors"
	"net/http"
)

// ErrInputInvalid is returned for malformed or missing identifiers.
var ErrInputInvalid = errors.New("invalid input")

// ErrNotFound is returned when a token, seat or reservation is unknown.
var ErrNotFound = errors.New("not found")

// ErrConflict signals that the operation cannot proceed because of the
// current state of the resource. Handlers translate it into HTTP 409.
var ErrConflict = errors.New("conflict")

// ErrInvalidState is returned when a lifecycle transition is not allowed
// from the current status, e.g. reserving a Held seat or confirming an
// expired reservation. It belongs to the Conflict class.
var ErrInvalidState = wrap("invalid state", ErrConflict)

// ErrAlreadyQueued is returned by Enqueue when the user still owns a
// Waiting or Active entry.
var ErrAlreadyQueued = wrap("already queued", ErrConflict)

// ErrLockTimeout is returned when waiting for a seat lock exceeded the
// configured bound.
var ErrLockTimeout = wrap("seat lock wait timeout", ErrConflict)

// ErrForbidden is returned when the caller is identified but not allowed
// to act: queue token not Active, or acting-user mismatch.
var ErrForbidden = errors.New("forbidden")

// ErrUnauthorized is returned when the caller cannot be identified.
var ErrUnauthorized = errors.New("unauthorized")

type classified struct {
	msg    string
	parent error
}

func (e *classified) Error() string { return e.msg }
func (e *classified) Unwrap() error { return e.parent }

func wrap(msg string, parent error) error { return &classified{msg: msg, parent: parent} }

// HTTPStatus maps an error to the status code handlers should respond with.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInputInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err is one of the client-class sentinels.
// Client errors are never retried internally.
func IsClientError(err error) bool {
	s := HTTPStatus(err)
	return s >= 400 && s < 500
}
