// Package reservation implements the reservation ledger and the sweeper
// that expires holds nobody confirmed in time.
//
// Every transition happens under the lock of the reservation's seat and
// re-reads the reservation inside that lock, so the status a decision is
// based on cannot change before it is written.  Domain events are
// published only after the transaction commits.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/events"
	"github.com/iliyamo/ticket-admission/internal/inventory"
	"github.com/iliyamo/ticket-admission/internal/metrics"
	"github.com/iliyamo/ticket-admission/internal/model"
	"github.com/iliyamo/ticket-admission/internal/store"
)

const publishTimeout = 5 * time.Second

// Options configures a Ledger.
type Options struct {
	// HoldWindow is how long a PENDING reservation keeps its seat.
	HoldWindow time.Duration
	Now        func() time.Time
}

// Ledger records reservations and drives the seat transitions they imply.
type Ledger struct {
	inv   *inventory.Inventory
	store store.Store
	pub   events.Publisher
	log   logrus.FieldLogger
	opts  Options
}

// New returns a Ledger.  A nil publisher disables events.
func New(inv *inventory.Inventory, st store.Store, pub events.Publisher, log logrus.FieldLogger, opts Options) *Ledger {
	if opts.HoldWindow <= 0 {
		opts.HoldWindow = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Ledger{inv: inv, store: st, pub: pub, log: log, opts: opts}
}

// Create holds seatID for userID.  A seat that already has a live
// reservation is refused up front without taking its lock.  Otherwise, in
// one transaction, it locks the seat, re-checks for a live reservation,
// moves the seat to HELD and inserts a PENDING reservation with the seat's
// current price.
func (l *Ledger) Create(ctx context.Context, userID, seatID uint64) (model.Reservation, error) {
	if userID == 0 {
		return model.Reservation{}, fmt.Errorf("%w: user id is required", apperr.ErrInputInvalid)
	}
	if seatID != 0 {
		taken, err := l.HasActiveReservation(ctx, seatID)
		if err != nil {
			l.count(err, "")
			return model.Reservation{}, err
		}
		if taken {
			err := fmt.Errorf("%w: seat %d is already reserved", apperr.ErrConflict, seatID)
			l.count(err, "")
			return model.Reservation{}, err
		}
	}
	var r model.Reservation
	err := l.inv.WithSeat(ctx, seatID, func(h *inventory.Handle) error {
		live, err := h.Tx().LiveReservationForSeat(ctx, seatID)
		if err != nil {
			return err
		}
		if live != nil {
			return fmt.Errorf("%w: seat %d is already reserved", apperr.ErrConflict, seatID)
		}
		if err := l.inv.Reserve(ctx, h); err != nil {
			return err
		}
		now := l.opts.Now().UTC()
		seat := h.Seat()
		r = model.Reservation{
			UserID:     userID,
			SeatID:     seat.ID,
			SessionID:  seat.SessionID,
			Price:      seat.Price,
			Status:     model.ReservationPending,
			ReservedAt: now,
			ExpiresAt:  now.Add(l.opts.HoldWindow),
		}
		return h.Tx().CreateReservation(ctx, &r)
	})
	if err != nil {
		l.count(err, "")
		return model.Reservation{}, err
	}
	l.count(nil, "created")
	l.publish(ctx, events.ReservationCreated, r)
	return r, nil
}

// Confirm moves a PENDING reservation to CONFIRMED.  The seat stays HELD;
// it is only sold by Finalize.  A reservation whose hold window elapsed
// cannot be confirmed even if the sweeper has not reached it yet.
func (l *Ledger) Confirm(ctx context.Context, id uint64) (model.Reservation, error) {
	r, err := l.transition(ctx, id, func(h *inventory.Handle, r *model.Reservation) error {
		now := l.opts.Now()
		if r.Status != model.ReservationPending {
			return fmt.Errorf("%w: reservation %d is %s", apperr.ErrInvalidState, r.ID, r.Status)
		}
		if r.ExpiredAt(now) {
			return fmt.Errorf("%w: reservation %d hold expired at %s", apperr.ErrInvalidState, r.ID, r.ExpiresAt.Format(time.RFC3339))
		}
		return l.setStatus(ctx, h, r, model.ReservationConfirmed, now)
	})
	return l.finish(ctx, r, err, events.ReservationConfirmed, "confirmed")
}

// Cancel moves a PENDING or CONFIRMED reservation to CANCELLED and
// releases its seat.
func (l *Ledger) Cancel(ctx context.Context, id uint64) (model.Reservation, error) {
	return l.cancel(ctx, id, 0)
}

// CancelBy is Cancel on behalf of userID; it fails with
// apperr.ErrForbidden when the reservation belongs to someone else.
func (l *Ledger) CancelBy(ctx context.Context, id, userID uint64) (model.Reservation, error) {
	if userID == 0 {
		return model.Reservation{}, fmt.Errorf("%w: user id is required", apperr.ErrInputInvalid)
	}
	return l.cancel(ctx, id, userID)
}

func (l *Ledger) cancel(ctx context.Context, id, userID uint64) (model.Reservation, error) {
	r, err := l.transition(ctx, id, func(h *inventory.Handle, r *model.Reservation) error {
		if userID != 0 && r.UserID != userID {
			return fmt.Errorf("%w: reservation %d belongs to another user", apperr.ErrForbidden, r.ID)
		}
		if !r.Status.IsLive() {
			return fmt.Errorf("%w: reservation %d is %s", apperr.ErrInvalidState, r.ID, r.Status)
		}
		if err := l.setStatus(ctx, h, r, model.ReservationCancelled, l.opts.Now()); err != nil {
			return err
		}
		return l.inv.Release(ctx, h)
	})
	return l.finish(ctx, r, err, events.ReservationCancelled, "cancelled")
}

// Expire moves a PENDING reservation whose hold window elapsed to EXPIRED
// and releases its seat.  It reports false, changing nothing, when the
// reservation was already confirmed, cancelled or expired, or when its
// window has not elapsed yet.
func (l *Ledger) Expire(ctx context.Context, id uint64) (bool, error) {
	expired := false
	r, err := l.transition(ctx, id, func(h *inventory.Handle, r *model.Reservation) error {
		now := l.opts.Now()
		if r.Status != model.ReservationPending || !r.ExpiredAt(now) {
			return nil
		}
		if err := l.setStatus(ctx, h, r, model.ReservationExpired, now); err != nil {
			return err
		}
		expired = true
		return l.inv.Release(ctx, h)
	})
	if err != nil || !expired {
		return false, err
	}
	l.count(nil, "expired")
	l.publish(ctx, events.ReservationExpired, r)
	return true, nil
}

// Finalize sells the seat of a CONFIRMED reservation.  Funds verification
// happens upstream; Finalize is the only path that makes a seat SOLD.
func (l *Ledger) Finalize(ctx context.Context, id uint64) (model.Reservation, error) {
	r, err := l.transition(ctx, id, func(h *inventory.Handle, r *model.Reservation) error {
		if r.Status != model.ReservationConfirmed {
			return fmt.Errorf("%w: reservation %d is %s, expected %s",
				apperr.ErrInvalidState, r.ID, r.Status, model.ReservationConfirmed)
		}
		return l.inv.Sell(ctx, h)
	})
	return l.finish(ctx, r, err, events.ReservationFinalized, "finalized")
}

// Get returns a reservation by id.
func (l *Ledger) Get(ctx context.Context, id uint64) (model.Reservation, error) {
	if id == 0 {
		return model.Reservation{}, fmt.Errorf("%w: reservation id is required", apperr.ErrInputInvalid)
	}
	return l.store.GetReservation(ctx, id)
}

// GetBy returns a reservation owned by userID.
func (l *Ledger) GetBy(ctx context.Context, id, userID uint64) (model.Reservation, error) {
	r, err := l.Get(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	if r.UserID != userID {
		return model.Reservation{}, fmt.Errorf("%w: reservation %d belongs to another user", apperr.ErrForbidden, id)
	}
	return r, nil
}

// HasActiveReservation is a lock-free pre-check.  The answer may be stale
// by the time the caller acts on it; Create re-checks under the seat lock.
func (l *Ledger) HasActiveReservation(ctx context.Context, seatID uint64) (bool, error) {
	return l.store.HasLiveReservation(ctx, seatID)
}

// Now exposes the ledger clock so handlers compute remaining seconds
// against the same time source.
func (l *Ledger) Now() time.Time { return l.opts.Now() }

// transition locates the reservation's seat, locks it and hands fn the
// reservation as read under that lock.
func (l *Ledger) transition(ctx context.Context, id uint64, fn func(*inventory.Handle, *model.Reservation) error) (model.Reservation, error) {
	if id == 0 {
		return model.Reservation{}, fmt.Errorf("%w: reservation id is required", apperr.ErrInputInvalid)
	}
	cur, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	var out model.Reservation
	err = l.inv.WithSeat(ctx, cur.SeatID, func(h *inventory.Handle) error {
		r, err := h.Tx().LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(h, &r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (l *Ledger) setStatus(ctx context.Context, h *inventory.Handle, r *model.Reservation, to model.ReservationStatus, at time.Time) error {
	if err := h.Tx().SetReservationStatus(ctx, r.ID, r.Status, to, at); err != nil {
		return err
	}
	r.Status = to
	r.UpdatedAt = at.UTC()
	return nil
}

func (l *Ledger) finish(ctx context.Context, r model.Reservation, err error, eventType, result string) (model.Reservation, error) {
	l.count(err, result)
	if err != nil {
		return model.Reservation{}, err
	}
	l.publish(ctx, eventType, r)
	return r, nil
}

func (l *Ledger) count(err error, result string) {
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrConflict):
		result = "conflict"
	case apperr.IsClientError(err):
		result = "rejected"
	default:
		result = "error"
	}
	metrics.Reservations.WithLabelValues(result).Inc()
}

// publish runs after commit.  It detaches from the request context so a
// caller that hung up right after the commit still produces the event.
func (l *Ledger) publish(ctx context.Context, eventType string, r model.Reservation) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := l.pub.Publish(pctx, events.NewReservationEvent(eventType, r, l.opts.Now())); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{
			"event":          eventType,
			"reservation_id": r.ID,
		}).Warn("event publish failed")
	}
}
