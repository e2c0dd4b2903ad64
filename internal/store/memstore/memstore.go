// Package memstore is an in-process store.Store.  Seat row locks are
// realized with a sharded keyed mutex, and transactions stage their writes
// and publish them atomically on commit, so readers never see a half
// applied unit of work.  It is meant for single-instance deployments and
// tests; state does not survive a restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/lock"
	"github.com/iliyamo/ticket-admission/internal/model"
	"github.com/iliyamo/ticket-admission/internal/store"
)

// Store keeps seats and reservations in maps guarded by an RWMutex.  The
// RWMutex only protects the maps; exclusivity per seat comes from locks.
type Store struct {
	mu           sync.RWMutex
	seats        map[uint64]model.Seat
	reservations map[uint64]model.Reservation

	seatSeq atomic.Uint64
	resSeq  atomic.Uint64
	locks   *lock.KeyedMutex
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		seats:        make(map[uint64]model.Seat),
		reservations: make(map[uint64]model.Reservation),
		locks:        lock.NewKeyedMutex(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	tx := &memTx{
		s:     s,
		seats: make(map[uint64]model.Seat),
		res:   make(map[uint64]model.Reservation),
	}
	defer tx.release()
	if err := fn(tx); err != nil {
		return err
	}
	// a cancelled caller rolls back even if fn ignored the context
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, seat := range tx.seats {
		s.seats[id] = seat
	}
	for id, r := range tx.res {
		s.reservations[id] = r
	}
}

func (s *Store) GetSeat(_ context.Context, id uint64) (model.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seat, ok := s.seats[id]
	if !ok {
		return model.Seat{}, fmt.Errorf("%w: seat %d", apperr.ErrNotFound, id)
	}
	return seat, nil
}

func (s *Store) ListSeatsBySession(_ context.Context, sessionID uint64) ([]model.Seat, error) {
	s.mu.RLock()
	out := make([]model.Seat, 0)
	for _, seat := range s.seats {
		if seat.SessionID == sessionID {
			out = append(out, seat)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateSeat inserts a seat.  Seat numbers are unique within a session.
func (s *Store) CreateSeat(_ context.Context, seat *model.Seat) error {
	if seat.SessionID == 0 || seat.SeatNumber == "" {
		return fmt.Errorf("%w: session id and seat number are required", apperr.ErrInputInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.seats {
		if other.SessionID == seat.SessionID && other.SeatNumber == seat.SeatNumber {
			return fmt.Errorf("%w: seat %s already exists in session %d", apperr.ErrConflict, seat.SeatNumber, seat.SessionID)
		}
	}
	now := s.now().UTC()
	seat.ID = s.seatSeq.Add(1)
	if seat.Status == "" {
		seat.Status = model.SeatAvailable
	}
	seat.CreatedAt, seat.UpdatedAt = now, now
	s.seats[seat.ID] = *seat
	return nil
}

func (s *Store) GetReservation(_ context.Context, id uint64) (model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return model.Reservation{}, fmt.Errorf("%w: reservation %d", apperr.ErrNotFound, id)
	}
	return r, nil
}

func (s *Store) HasLiveReservation(_ context.Context, seatID uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reservations {
		if r.SeatID == seatID && r.Status.IsLive() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	s.mu.RLock()
	var out []model.Reservation
	for _, r := range s.reservations {
		if r.Status == model.ReservationPending && !r.ExpiresAt.After(now) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

// memTx stages writes until commit.  It holds the lock of at most one
// seat.
type memTx struct {
	s          *Store
	lockedSeat uint64
	unlock     func()
	seats      map[uint64]model.Seat
	res        map[uint64]model.Reservation
}

func (tx *memTx) release() {
	if tx.unlock != nil {
		tx.unlock()
		tx.unlock = nil
	}
}

func (tx *memTx) seat(id uint64) (model.Seat, bool) {
	if seat, ok := tx.seats[id]; ok {
		return seat, true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	seat, ok := tx.s.seats[id]
	return seat, ok
}

func (tx *memTx) reservation(id uint64) (model.Reservation, bool) {
	if r, ok := tx.res[id]; ok {
		return r, true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	r, ok := tx.s.reservations[id]
	return r, ok
}

func (tx *memTx) requireLocked(seatID uint64) error {
	if tx.unlock == nil || tx.lockedSeat != seatID {
		return fmt.Errorf("seat %d is not locked by this transaction", seatID)
	}
	return nil
}

func (tx *memTx) LockSeat(ctx context.Context, seatID uint64) (model.Seat, error) {
	if tx.unlock != nil && tx.lockedSeat != seatID {
		return model.Seat{}, fmt.Errorf("transaction already holds seat %d, refusing to lock seat %d", tx.lockedSeat, seatID)
	}
	if tx.unlock == nil {
		unlock, err := tx.s.locks.Lock(ctx, seatID)
		if err != nil {
			return model.Seat{}, err
		}
		tx.unlock, tx.lockedSeat = unlock, seatID
	}
	seat, ok := tx.seat(seatID)
	if !ok {
		return model.Seat{}, fmt.Errorf("%w: seat %d", apperr.ErrNotFound, seatID)
	}
	return seat, nil
}

func (tx *memTx) SetSeatStatus(_ context.Context, seatID uint64, from, to model.SeatStatus) error {
	if err := tx.requireLocked(seatID); err != nil {
		return err
	}
	seat, ok := tx.seat(seatID)
	if !ok {
		return fmt.Errorf("%w: seat %d", apperr.ErrNotFound, seatID)
	}
	if seat.Status != from {
		return fmt.Errorf("%w: seat %d is %s, expected %s", apperr.ErrInvalidState, seatID, seat.Status, from)
	}
	seat.Status = to
	seat.UpdatedAt = tx.s.now().UTC()
	tx.seats[seatID] = seat
	return nil
}

func (tx *memTx) LockReservation(_ context.Context, id uint64) (model.Reservation, error) {
	r, ok := tx.reservation(id)
	if !ok {
		return model.Reservation{}, fmt.Errorf("%w: reservation %d", apperr.ErrNotFound, id)
	}
	if err := tx.requireLocked(r.SeatID); err != nil {
		return model.Reservation{}, err
	}
	return r, nil
}

func (tx *memTx) LiveReservationForSeat(_ context.Context, seatID uint64) (*model.Reservation, error) {
	for _, r := range tx.res {
		if r.SeatID == seatID && r.Status.IsLive() {
			return &r, nil
		}
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	for id, r := range tx.s.reservations {
		if _, staged := tx.res[id]; staged {
			continue
		}
		if r.SeatID == seatID && r.Status.IsLive() {
			return &r, nil
		}
	}
	return nil, nil
}

func (tx *memTx) CreateReservation(ctx context.Context, r *model.Reservation) error {
	if err := tx.requireLocked(r.SeatID); err != nil {
		return err
	}
	live, err := tx.LiveReservationForSeat(ctx, r.SeatID)
	if err != nil {
		return err
	}
	if live != nil {
		return fmt.Errorf("%w: seat %d already has live reservation %d", apperr.ErrConflict, r.SeatID, live.ID)
	}
	r.ID = tx.s.resSeq.Add(1)
	r.UpdatedAt = r.ReservedAt
	tx.res[r.ID] = *r
	return nil
}

func (tx *memTx) SetReservationStatus(_ context.Context, id uint64, from, to model.ReservationStatus, at time.Time) error {
	r, ok := tx.reservation(id)
	if !ok {
		return fmt.Errorf("%w: reservation %d", apperr.ErrNotFound, id)
	}
	if err := tx.requireLocked(r.SeatID); err != nil {
		return err
	}
	if r.Status != from {
		return fmt.Errorf("%w: reservation %d is %s, expected %s", apperr.ErrInvalidState, id, r.Status, from)
	}
	r.Status = to
	r.UpdatedAt = at.UTC()
	tx.res[id] = r
	return nil
}
