// Package events defines the messages exchanged over RabbitMQ: reservation
// domain events published after each committed transition, and the
// commands a funds collaborator sends to confirm, cancel or finalize a
// reservation.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/ticket-admission/internal/model"
)

// Event types.
const (
	ReservationCreated   = "reservation.created"
	ReservationConfirmed = "reservation.confirmed"
	ReservationCancelled = "reservation.cancelled"
	ReservationExpired   = "reservation.expired"
	ReservationFinalized = "reservation.finalized"
)

// ReservationEvent is published after a reservation transition commits.
// It carries enough for downstream consumers to notify or reconcile
// without querying the primary database.
type ReservationEvent struct {
	Type          string          `json:"type"`
	ReservationID uint64          `json:"reservation_id"`
	UserID        uint64          `json:"user_id"`
	SeatID        uint64          `json:"seat_id"`
	SessionID     uint64          `json:"session_id"`
	Price         decimal.Decimal `json:"price"`
	Status        string          `json:"status"`
	ExpiresAt     time.Time       `json:"expires_at"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewReservationEvent snapshots r for publishing.
func NewReservationEvent(typ string, r model.Reservation, at time.Time) ReservationEvent {
	return ReservationEvent{
		Type:          typ,
		ReservationID: r.ID,
		UserID:        r.UserID,
		SeatID:        r.SeatID,
		SessionID:     r.SessionID,
		Price:         r.Price,
		Status:        string(r.Status),
		ExpiresAt:     r.ExpiresAt.UTC(),
		OccurredAt:    at.UTC(),
	}
}

// Publisher sends reservation events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev ReservationEvent) error
}

// NopPublisher drops every event.  It is used when the broker is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ReservationEvent) error { return nil }

// Command actions.
const (
	ActionConfirm  = "confirm"
	ActionCancel   = "cancel"
	ActionFinalize = "finalize"
)

// Command is sent by the funds collaborator once it has verified (or
// reversed) payment.
type Command struct {
	Action        string `json:"action" validate:"required,oneof=confirm cancel finalize"`
	ReservationID uint64 `json:"reservation_id" validate:"required,gt=0"`
}
