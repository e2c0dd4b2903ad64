package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/middleware"
)

// RequestValidator adapts go-playground/validator to echo.Validator so
// handlers can call c.Validate on bound request bodies.
type RequestValidator struct {
	v *validator.Validate
}

// NewRequestValidator returns a validator for struct tags.
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{v: validator.New()}
}

// Validate reports the first failing field as an apperr.ErrInputInvalid.
func (rv *RequestValidator) Validate(i interface{}) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed on %s", apperr.ErrInputInvalid, strings.ToLower(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %v", apperr.ErrInputInvalid, err)
}

// bind decodes the body into v and validates it.
func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return fmt.Errorf("%w: invalid request body", apperr.ErrInputInvalid)
	}
	return c.Validate(v)
}

// respondError writes err as {"error": "..."} with the status its class
// maps to.  Server-side failures are logged and their detail is hidden
// from the caller.
func respondError(c echo.Context, log logrus.FieldLogger, err error) error {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Path()).Error("request failed")
		return c.JSON(status, echo.Map{"error": "internal error"})
	}
	return c.JSON(status, echo.Map{"error": err.Error()})
}

func parseID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid %s", apperr.ErrInputInvalid, name)
	}
	return id, nil
}

func currentUser(c echo.Context) (uint64, error) {
	uid, ok := middleware.UserID(c)
	if !ok {
		return 0, apperr.ErrUnauthorized
	}
	return uid, nil
}
