package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-admission/internal/inventory"
	"github.com/iliyamo/ticket-admission/internal/middleware"
	"github.com/iliyamo/ticket-admission/internal/model"
	"github.com/iliyamo/ticket-admission/internal/reservation"
)

// ReservationHandler lets admitted callers hold and release seats.  The
// queue gate has already run for the write routes, so every method here
// only deals with the ledger.
type ReservationHandler struct {
	Ledger *reservation.Ledger
	Log    logrus.FieldLogger
}

type createReservationRequest struct {
	SeatID uint64 `json:"seat_id" validate:"required,gt=0"`
}

type reservationResponse struct {
	ID               uint64                  `json:"id"`
	SeatID           uint64                  `json:"seat_id"`
	SessionID        uint64                  `json:"session_id"`
	Price            decimal.Decimal         `json:"price"`
	Status           model.ReservationStatus `json:"status"`
	ReservedAt       time.Time               `json:"reserved_at"`
	ExpiresAt        time.Time               `json:"expires_at"`
	RemainingSeconds int64                   `json:"remaining_seconds"`
}

func (h *ReservationHandler) render(r model.Reservation) reservationResponse {
	resp := reservationResponse{
		ID:         r.ID,
		SeatID:     r.SeatID,
		SessionID:  r.SessionID,
		Price:      r.Price,
		Status:     r.Status,
		ReservedAt: r.ReservedAt,
		ExpiresAt:  r.ExpiresAt,
	}
	if r.Status == model.ReservationPending {
		resp.RemainingSeconds = r.RemainingSeconds(h.Ledger.Now())
	}
	return resp
}

// Create handles POST /v1/reservations.  It holds the seat for the hold
// window and returns 201; the hold is logged with the admission token the
// gate accepted.  A seat that is already held, sold or locked past
// the wait bound yields 409.
func (h *ReservationHandler) Create(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	var body createReservationRequest
	if err := bind(c, &body); err != nil {
		return respondError(c, h.Log, err)
	}
	r, err := h.Ledger.Create(c.Request().Context(), uid, body.SeatID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	fields := logrus.Fields{"reservation_id": r.ID, "seat_id": r.SeatID, "user_id": uid}
	if entry, ok := middleware.QueueEntry(c); ok {
		fields["queue_token"] = entry.Token
	}
	h.Log.WithFields(fields).Info("seat held")
	return c.JSON(http.StatusCreated, h.render(r))
}

// Get handles GET /v1/reservations/:id for the reservation's owner.
func (h *ReservationHandler) Get(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, h.Log, err)
	}
	r, err := h.Ledger.GetBy(c.Request().Context(), id, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, h.render(r))
}

// Cancel handles DELETE /v1/reservations/:id.  The seat goes back to
// AVAILABLE.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	id, err := parseID(c, "id")
	if err != nil {
		return respondError(c, h.Log, err)
	}
	r, err := h.Ledger.CancelBy(c.Request().Context(), id, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, h.render(r))
}

// SeatHandler serves the public seat map.
type SeatHandler struct {
	Inventory *inventory.Inventory
	Log       logrus.FieldLogger
}

// List handles GET /v1/sessions/:id/seats.
func (h *SeatHandler) List(c echo.Context) error {
	sessionID, err := parseID(c, "id")
	if err != nil {
		return respondError(c, h.Log, err)
	}
	seats, err := h.Inventory.Seats(c.Request().Context(), sessionID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"session_id": sessionID, "seats": seats})
}
