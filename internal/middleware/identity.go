package middleware

// identity.go holds the context keys shared by the middleware in this
// package and the accessors handlers use to read them.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-admission/internal/model"
)

const (
	ctxUserID     = "user_id"
	ctxRole       = "role"
	ctxQueueEntry = "queue_entry"
)

// UserID returns the authenticated user's ID, or false when JWTAuth did
// not run for this request.
func UserID(c echo.Context) (uint64, bool) {
	uid, ok := c.Get(ctxUserID).(uint64)
	return uid, ok && uid != 0
}

// Role returns the authenticated user's role claim.
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}

// QueueEntry returns the admission entry QueueGate verified for this
// request.
func QueueEntry(c echo.Context) (model.QueueEntry, bool) {
	e, ok := c.Get(ctxQueueEntry).(model.QueueEntry)
	return e, ok
}

// userKey renders the caller for rate-limit keys; anonymous callers share
// one bucket per IP.
func userKey(c echo.Context) string {
	if uid, ok := UserID(c); ok {
		return strconv.FormatUint(uid, 10)
	}
	return "anon"
}

func subjectID(v interface{}) (uint64, bool) {
	switch s := v.(type) {
	case string:
		n, err := strconv.ParseUint(s, 10, 64)
		return n, err == nil && n != 0
	case float64:
		if s <= 0 || s != float64(uint64(s)) {
			return 0, false
		}
		return uint64(s), true
	}
	return 0, false
}
