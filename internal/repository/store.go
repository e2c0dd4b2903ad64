package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/ticket-admission/internal/model"
	"github.com/iliyamo/ticket-admission/internal/store"
)

// Store adapts the repositories to store.Store.
type Store struct {
	db           *sql.DB
	Seats        *SeatRepo
	Reservations *ReservationRepo
}

var _ store.Store = (*Store)(nil)

// NewStore wires the repositories around one pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, Seats: NewSeatRepo(db), Reservations: NewReservationRepo(db)}
}

// WithTx begins a transaction, runs fn and commits.  Any error or panic
// rolls the transaction back, which also releases the seat row lock.
func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&sqlTx{s: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) GetSeat(ctx context.Context, id uint64) (model.Seat, error) {
	return s.Seats.GetByID(ctx, id)
}

func (s *Store) ListSeatsBySession(ctx context.Context, sessionID uint64) ([]model.Seat, error) {
	return s.Seats.ListBySession(ctx, sessionID)
}

func (s *Store) CreateSeat(ctx context.Context, seat *model.Seat) error {
	return s.Seats.Create(ctx, seat)
}

func (s *Store) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	return s.Reservations.GetByID(ctx, id)
}

func (s *Store) HasLiveReservation(ctx context.Context, seatID uint64) (bool, error) {
	return s.Reservations.HasLiveBySeat(ctx, seatID)
}

func (s *Store) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	return s.Reservations.ListExpiredPending(ctx, now, limit)
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// sqlTx binds the repositories to one *sql.Tx and remembers the single
// seat it locked.
type sqlTx struct {
	s          *Store
	tx         *sql.Tx
	lockedSeat uint64
}

func (t *sqlTx) LockSeat(ctx context.Context, seatID uint64) (model.Seat, error) {
	if t.lockedSeat != 0 && t.lockedSeat != seatID {
		return model.Seat{}, fmt.Errorf("transaction already holds seat %d, refusing to lock seat %d", t.lockedSeat, seatID)
	}
	seat, err := t.s.Seats.GetForUpdateTx(ctx, t.tx, seatID)
	if err != nil {
		return model.Seat{}, err
	}
	t.lockedSeat = seatID
	return seat, nil
}

func (t *sqlTx) SetSeatStatus(ctx context.Context, seatID uint64, from, to model.SeatStatus) error {
	if t.lockedSeat != seatID {
		return fmt.Errorf("seat %d is not locked by this transaction", seatID)
	}
	return t.s.Seats.UpdateStatusTx(ctx, t.tx, seatID, from, to)
}

func (t *sqlTx) LockReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	return t.s.Reservations.GetForUpdateTx(ctx, t.tx, id)
}

func (t *sqlTx) LiveReservationForSeat(ctx context.Context, seatID uint64) (*model.Reservation, error) {
	return t.s.Reservations.LiveBySeatTx(ctx, t.tx, seatID)
}

func (t *sqlTx) CreateReservation(ctx context.Context, r *model.Reservation) error {
	if t.lockedSeat != r.SeatID {
		return fmt.Errorf("seat %d is not locked by this transaction", r.SeatID)
	}
	return t.s.Reservations.CreateTx(ctx, t.tx, r)
}

func (t *sqlTx) SetReservationStatus(ctx context.Context, id uint64, from, to model.ReservationStatus, at time.Time) error {
	return t.s.Reservations.UpdateStatusTx(ctx, t.tx, id, from, to, at)
}
