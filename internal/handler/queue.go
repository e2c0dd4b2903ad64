package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/model"
	"github.com/iliyamo/ticket-admission/internal/queue"
)

// QueueHandler serves the waiting room: joining, polling and leaving.
// BatchSize and Period describe the activator so the handler can turn an
// ahead count into a wait estimate.
type QueueHandler struct {
	Queue     *queue.Queue
	BatchSize int
	Period    time.Duration
	Log       logrus.FieldLogger
}

// queueEntryResponse is the body of enqueue and status responses.
// Sequence is the insertion number handed out at enqueue; Position is the
// number of entries still waiting ahead, which shrinks as the line moves.
type queueEntryResponse struct {
	Token                string            `json:"token"`
	UserID               uint64            `json:"user_id"`
	Status               model.QueueStatus `json:"status"`
	Sequence             int64             `json:"sequence"`
	Position             int64             `json:"position"`
	EstimatedWaitSeconds int64             `json:"estimated_wait_seconds"`
	EnteredAt            time.Time         `json:"entered_at"`
	ExpiresAt            *time.Time        `json:"expires_at,omitempty"`
}

func (h *QueueHandler) render(e model.QueueEntry, ahead int64) queueEntryResponse {
	resp := queueEntryResponse{
		Token:     e.Token,
		UserID:    e.UserID,
		Status:    e.Status,
		Sequence:  e.Position,
		EnteredAt: e.EnteredAt,
		ExpiresAt: e.ExpiresAt,
	}
	if e.Status == model.QueueWaiting {
		resp.Position = ahead
		resp.EstimatedWaitSeconds = int64(queue.EstimateWait(ahead, h.BatchSize, h.Period) / time.Second)
	}
	return resp
}

// Enqueue handles POST /v1/queue.  It places the caller at the back of the
// line and returns 201 with the new token.  A caller who already holds a
// WAITING or ACTIVE entry gets 409.
func (h *QueueHandler) Enqueue(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	ctx := c.Request().Context()
	e, err := h.Queue.Enqueue(ctx, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	ahead, err := h.Queue.PositionOf(ctx, e.Token)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, h.render(e, ahead))
}

// Status handles GET /v1/queue/:token.  Only the owner may poll a token.
func (h *QueueHandler) Status(c echo.Context) error {
	e, ahead, err := h.owned(c)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, h.render(e, ahead))
}

// Leave handles DELETE /v1/queue/:token.  The entry is expired right away
// so the caller can enqueue again.
func (h *QueueHandler) Leave(c echo.Context) error {
	e, _, err := h.owned(c)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if err := h.Queue.Leave(c.Request().Context(), e.Token); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *QueueHandler) owned(c echo.Context) (model.QueueEntry, int64, error) {
	uid, err := currentUser(c)
	if err != nil {
		return model.QueueEntry{}, 0, err
	}
	token := c.Param("token")
	if token == "" {
		return model.QueueEntry{}, 0, fmt.Errorf("%w: token is required", apperr.ErrInputInvalid)
	}
	e, ahead, err := h.Queue.Lookup(c.Request().Context(), token)
	if err != nil {
		return model.QueueEntry{}, 0, err
	}
	if e.UserID != uid {
		return model.QueueEntry{}, 0, fmt.Errorf("%w: queue token belongs to another user", apperr.ErrForbidden)
	}
	return e, ahead, nil
}

// AdminHandler exposes queue operations for operators.
type AdminHandler struct {
	Queue     *queue.Queue
	Activator *queue.Activator
	Log       logrus.FieldLogger
}

// Stats handles GET /v1/admin/queue.
func (h *AdminHandler) Stats(c echo.Context) error {
	st, err := h.Queue.Stats(c.Request().Context())
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, st)
}

// Activate handles POST /v1/admin/queue/activate by running one activation
// tick immediately, outside the periodic schedule.
func (h *AdminHandler) Activate(c echo.Context) error {
	res, err := h.Activator.Tick(c.Request().Context())
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}
