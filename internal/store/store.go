// Package store declares the persistence contract used by the seat
// inventory and the reservation ledger.  Two realizations exist: the MySQL
// repositories (row locks via SELECT ... FOR UPDATE) and memstore (an
// in-process keyed mutex for single-instance runs).
package store

import (
	"context"
	"time"

	"github.com/iliyamo/ticket-admission/internal/model"
)

// Tx is one unit of work.  A Tx locks at most one seat; the lock is held
// until the transaction commits or rolls back.
//
// Status setters take the expected current status and fail with
// apperr.ErrInvalidState when the stored row no longer matches, so every
// write re-checks the state it was decided on.
type Tx interface {
	// LockSeat acquires the exclusive lock on the seat row and returns its
	// current state.  apperr.ErrNotFound when the seat does not exist.
	LockSeat(ctx context.Context, seatID uint64) (model.Seat, error)
	SetSeatStatus(ctx context.Context, seatID uint64, from, to model.SeatStatus) error

	// LockReservation reads the latest committed reservation row.  Callers
	// must already hold the lock of the reservation's seat.
	LockReservation(ctx context.Context, id uint64) (model.Reservation, error)
	// LiveReservationForSeat returns the PENDING or CONFIRMED reservation
	// of a seat, or nil when there is none.
	LiveReservationForSeat(ctx context.Context, seatID uint64) (*model.Reservation, error)
	CreateReservation(ctx context.Context, r *model.Reservation) error
	SetReservationStatus(ctx context.Context, id uint64, from, to model.ReservationStatus, at time.Time) error
}

// Store is the non-transactional surface plus the transaction runner.
type Store interface {
	// WithTx runs fn in a transaction.  It commits when fn returns nil and
	// rolls back otherwise, including when fn panics.
	WithTx(ctx context.Context, fn func(Tx) error) error

	GetSeat(ctx context.Context, id uint64) (model.Seat, error)
	ListSeatsBySession(ctx context.Context, sessionID uint64) ([]model.Seat, error)
	CreateSeat(ctx context.Context, s *model.Seat) error

	GetReservation(ctx context.Context, id uint64) (model.Reservation, error)
	HasLiveReservation(ctx context.Context, seatID uint64) (bool, error)
	// ListExpiredPending returns up to limit PENDING reservations whose
	// expires_at is at or before now, oldest first.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)

	Ping(ctx context.Context) error
}
