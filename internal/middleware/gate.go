package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/model"
)

// QueueTokenHeader carries the admission token on reservation requests.
const QueueTokenHeader = "X-Queue-Token"

// AdmissionLookup is the part of the queue the gate needs.
type AdmissionLookup interface {
	Lookup(ctx context.Context, token string) (model.QueueEntry, int64, error)
}

// QueueGate admits only callers holding an ACTIVE queue token they own.
//
//   - missing or unknown token: 401
//   - token of another user, or not ACTIVE at now: 403, with the entry's
//     status (and ahead count while WAITING) in the message
//
// The check runs before the handler touches any seat, so no seat lock is
// ever held across a Redis round trip.  It must run after JWTAuth.
func QueueGate(q AdmissionLookup, now func() time.Time, log logrus.FieldLogger) echo.MiddlewareFunc {
	if now == nil {
		now = time.Now
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := c.Request().Header.Get(QueueTokenHeader)
			if token == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing queue token"})
			}
			uid, ok := UserID(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
			}

			entry, ahead, err := q.Lookup(c.Request().Context(), token)
			switch {
			case errors.Is(err, apperr.ErrNotFound):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unknown queue token"})
			case err != nil:
				log.WithError(err).Error("queue gate lookup failed")
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "queue unavailable"})
			}

			if entry.UserID != uid {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "queue token belongs to another user"})
			}
			if !entry.ActiveAt(now()) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": denial(entry, ahead)})
			}

			c.Set(ctxQueueEntry, entry)
			return next(c)
		}
	}
}

func denial(e model.QueueEntry, ahead int64) string {
	switch e.Status {
	case model.QueueWaiting:
		return fmt.Sprintf("queue token is %s, position %d", e.Status, ahead)
	case model.QueueActive:
		// active in the hash but past its window; the activator has not
		// demoted it yet
		return fmt.Sprintf("queue token is %s", model.QueueExpired)
	default:
		return fmt.Sprintf("queue token is %s", e.Status)
	}
}
