// Package inventory guards seat status transitions.  Every transition
// happens through a Handle obtained from GetForUpdate, which holds the
// exclusive lock of exactly one seat row until the surrounding
// transaction ends.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/metrics"
	"github.com/iliyamo/ticket-admission/internal/model"
	"github.com/iliyamo/ticket-admission/internal/store"
)

// Inventory is the seat inventory.
type Inventory struct {
	store    store.Store
	lockWait time.Duration
}

// Handle is an exclusive, scope-bound claim on one seat.  It is only
// valid inside the WithSeat callback (or the transaction) that created it.
type Handle struct {
	tx    store.Tx
	seat  model.Seat
	ended bool
}

// Seat returns the seat as of the last transition made through h.
func (h *Handle) Seat() model.Seat { return h.seat }

// Tx exposes the transaction the handle lives in so related rows can be
// written in the same unit of work.
func (h *Handle) Tx() store.Tx { return h.tx }

// New returns an Inventory.  lockWait bounds how long GetForUpdate waits
// for a contended seat; zero waits as long as the caller's context allows.
func New(st store.Store, lockWait time.Duration) *Inventory {
	return &Inventory{store: st, lockWait: lockWait}
}

// WithSeat runs fn with a handle on seatID inside its own transaction.
// The transaction commits when fn returns nil and rolls back otherwise, so
// a failing fn never leaves a partial transition behind.
func (inv *Inventory) WithSeat(ctx context.Context, seatID uint64, fn func(*Handle) error) error {
	if seatID == 0 {
		return fmt.Errorf("%w: seat id is required", apperr.ErrInputInvalid)
	}
	return inv.store.WithTx(ctx, func(tx store.Tx) error {
		h, err := inv.GetForUpdate(ctx, tx, seatID)
		if err != nil {
			return err
		}
		defer func() { h.ended = true }()
		return fn(h)
	})
}

// GetForUpdate locks seatID within tx.  It fails with apperr.ErrNotFound
// for an unknown seat and apperr.ErrLockTimeout when the lock could not be
// obtained within the configured wait.
func (inv *Inventory) GetForUpdate(ctx context.Context, tx store.Tx, seatID uint64) (*Handle, error) {
	lockCtx, cancel := ctx, context.CancelFunc(func() {})
	if inv.lockWait > 0 {
		lockCtx, cancel = context.WithTimeout(ctx, inv.lockWait)
	}
	defer cancel()

	start := time.Now()
	seat, err := tx.LockSeat(lockCtx, seatID)
	metrics.SeatLockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil && errors.Is(lockCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: seat %d", apperr.ErrLockTimeout, seatID)
		}
		return nil, err
	}
	return &Handle{tx: tx, seat: seat}, nil
}

// Reserve moves the seat AVAILABLE -> HELD.
func (inv *Inventory) Reserve(ctx context.Context, h *Handle) error {
	return move(ctx, h, model.SeatAvailable, model.SeatHeld)
}

// Release moves the seat HELD -> AVAILABLE.
func (inv *Inventory) Release(ctx context.Context, h *Handle) error {
	return move(ctx, h, model.SeatHeld, model.SeatAvailable)
}

// Sell moves the seat HELD -> SOLD.
func (inv *Inventory) Sell(ctx context.Context, h *Handle) error {
	return move(ctx, h, model.SeatHeld, model.SeatSold)
}

// SellSeat locks seatID in its own transaction and sells it.
func (inv *Inventory) SellSeat(ctx context.Context, seatID uint64) error {
	return inv.WithSeat(ctx, seatID, func(h *Handle) error { return inv.Sell(ctx, h) })
}

func move(ctx context.Context, h *Handle, from, to model.SeatStatus) error {
	if h == nil || h.ended {
		return errors.New("seat handle used outside its scope")
	}
	if h.seat.Status != from || !from.CanTransition(to) {
		return fmt.Errorf("%w: seat %d is %s", apperr.ErrInvalidState, h.seat.ID, h.seat.Status)
	}
	if err := h.tx.SetSeatStatus(ctx, h.seat.ID, from, to); err != nil {
		return err
	}
	h.seat.Status = to
	return nil
}

// Seat returns the committed state of one seat.
func (inv *Inventory) Seat(ctx context.Context, seatID uint64) (model.Seat, error) {
	return inv.store.GetSeat(ctx, seatID)
}

// Seats lists the seats of a session.
func (inv *Inventory) Seats(ctx context.Context, sessionID uint64) ([]model.Seat, error) {
	if sessionID == 0 {
		return nil, fmt.Errorf("%w: session id is required", apperr.ErrInputInvalid)
	}
	return inv.store.ListSeatsBySession(ctx, sessionID)
}

// CreateSeat adds a seat during catalog setup.  New seats start AVAILABLE.
func (inv *Inventory) CreateSeat(ctx context.Context, s *model.Seat) error {
	if s.SessionID == 0 || s.SeatNumber == "" {
		return fmt.Errorf("%w: session id and seat number are required", apperr.ErrInputInvalid)
	}
	if s.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", apperr.ErrInputInvalid)
	}
	s.Status = model.SeatAvailable
	return inv.store.CreateSeat(ctx, s)
}
