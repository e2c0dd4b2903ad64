package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// IsLive reports whether the status still owns its seat.
func (s ReservationStatus) IsLive() bool {
	return s == ReservationPending || s == ReservationConfirmed
}

// Reservation records a time-bounded hold of one seat by one user.  The
// price is a snapshot taken at creation and never changes afterwards.
// A seat is HELD exactly while one live reservation references it.
//
// Fields:
//
//	ID         – primary key identifier.
//	UserID     – user who owns the hold.
//	SeatID     – seat being held.
//	SessionID  – session of the seat, copied for listing.
//	Price      – price snapshot.
//	Status     – PENDING, CONFIRMED, CANCELLED or EXPIRED.
//	ReservedAt – creation timestamp.
//	ExpiresAt  – ReservedAt plus the hold window.
//	UpdatedAt  – last status change.
type Reservation struct {
	ID         uint64            `json:"id"`          // reservations.id
	UserID     uint64            `json:"user_id"`     // reservations.user_id
	SeatID     uint64            `json:"seat_id"`     // reservations.seat_id
	SessionID  uint64            `json:"session_id"`  // reservations.session_id
	Price      decimal.Decimal   `json:"price"`       // reservations.price
	Status     ReservationStatus `json:"status"`      // reservations.status
	ReservedAt time.Time         `json:"reserved_at"` // reservations.reserved_at
	ExpiresAt  time.Time         `json:"expires_at"`  // reservations.expires_at
	UpdatedAt  time.Time         `json:"updated_at"`  // reservations.updated_at
}

// RemainingSeconds returns how many whole seconds of the hold window are
// left at now, never negative.
func (r Reservation) RemainingSeconds(now time.Time) int64 {
	d := r.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// ExpiredAt reports whether the hold window has elapsed at now.
func (r Reservation) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
