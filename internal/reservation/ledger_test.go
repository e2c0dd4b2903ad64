package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/events"
	"github.com/iliyamo/ticket-admission/internal/inventory"
	"github.com/iliyamo/ticket-admission/internal/model"
	"github.com/iliyamo/ticket-admission/internal/store/memstore"
)

type testClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration // added after every reading when non-zero
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func (c *testClock) Set(t time.Time, step time.Duration) {
	c.mu.Lock()
	c.t, c.step = t, step
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ReservationEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	ledger *Ledger
	inv    *inventory.Inventory
	clock  *testClock
	pub    *recordingPublisher
	hook   *test.Hook
	seat   model.Seat
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLockWait(t, 2*time.Second)
}

func newFixtureWithLockWait(t *testing.T, lockWait time.Duration) *fixture {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 4, 2, 18, 0, 0, 0, time.UTC)}
	st := memstore.New(memstore.WithClock(clk.Now))
	inv := inventory.New(st, lockWait)
	pub := &recordingPublisher{}
	log, hook := test.NewNullLogger()

	seat := model.Seat{SessionID: 1, SeatNumber: "C-3", Price: decimal.NewFromInt(50000)}
	require.NoError(t, inv.CreateSeat(context.Background(), &seat))

	l := New(inv, st, pub, log, Options{HoldWindow: 5 * time.Minute, Now: clk.Now})
	return &fixture{ledger: l, inv: inv, clock: clk, pub: pub, hook: hook, seat: seat}
}

func (f *fixture) seatStatus(t *testing.T) model.SeatStatus {
	t.Helper()
	s, err := f.inv.Seat(context.Background(), f.seat.ID)
	require.NoError(t, err)
	return s.Status
}

func TestCreateSnapshotsPriceAndWindow(t *testing.T) {
	f := newFixture(t)
	r, err := f.ledger.Create(context.Background(), 7, f.seat.ID)
	require.NoError(t, err)

	assert.NotZero(t, r.ID)
	assert.Equal(t, model.ReservationPending, r.Status)
	assert.True(t, r.Price.Equal(decimal.NewFromInt(50000)))
	assert.True(t, r.ExpiresAt.Equal(f.clock.Now().Add(5*time.Minute)))
	assert.EqualValues(t, 300, r.RemainingSeconds(f.clock.Now()))
	assert.Equal(t, model.SeatHeld, f.seatStatus(t))
	assert.Equal(t, []string{events.ReservationCreated}, f.pub.types())

	live, err := f.ledger.HasActiveReservation(context.Background(), f.seat.ID)
	require.NoError(t, err)
	assert.True(t, live)
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(user uint64) {
			defer wg.Done()
			<-start
			_, err := f.ledger.Create(ctx, user, f.seat.ID)
			errs <- err
		}(uint64(100 + i))
	}
	close(start)
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrConflict)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, model.SeatHeld, f.seatStatus(t))
	assert.Len(t, f.pub.types(), 1)
}

// holdSeat keeps seatID locked until the returned release is called.
func (f *fixture) holdSeat(t *testing.T, seatID uint64) (release func()) {
	t.Helper()
	locked, unlock := make(chan struct{}), make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.inv.WithSeat(context.Background(), seatID, func(*inventory.Handle) error {
			close(locked)
			<-unlock
			return nil
		})
	}()
	<-locked
	return func() {
		close(unlock)
		require.NoError(t, <-done)
	}
}

func (f *fixture) addSeat(t *testing.T, number string) model.Seat {
	t.Helper()
	seat := model.Seat{SessionID: 1, SeatNumber: number, Price: decimal.NewFromInt(10)}
	require.NoError(t, f.inv.CreateSeat(context.Background(), &seat))
	return seat
}

func TestCreateRefusesTakenSeatWithoutLocking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Create(ctx, 7, f.seat.ID)
	require.NoError(t, err)

	release := f.holdSeat(t, f.seat.ID)
	defer release()

	start := time.Now()
	_, err = f.ledger.Create(ctx, 8, f.seat.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NotErrorIs(t, err, apperr.ErrLockTimeout)
	assert.Less(t, time.Since(start), time.Second, "a taken seat must not wait for the lock")
}

func TestConfirmKeepsSeatHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.ledger.Create(ctx, 7, f.seat.ID)
	require.NoError(t, err)

	f.clock.Advance(4 * time.Minute)
	got, err := f.ledger.Confirm(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationConfirmed, got.Status)
	assert.Equal(t, model.SeatHeld, f.seatStatus(t))

	_, err = f.ledger.Confirm(ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "already confirmed")
}

func TestConfirmAfterExpiryIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.ledger.Create(ctx, 7, f.seat.ID)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.ledger.Confirm(ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := f.ledger.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, got.Status, "sweeper owns the expiry")
	assert.Equal(t, model.SeatHeld, f.seatStatus(t))
}

func TestCancelReleasesSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.ledger.Create(ctx, 7, f.seat.ID)
	require.NoError(t, err)
	_, err = f.ledger.Confirm(ctx, r.ID)
	require.NoError(t, err)

	got, err := f.ledger.Cancel(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, got.Status)
	assert.Equal(t, model.SeatAvailable, f.seatStatus(t))

	_, err = f.ledger.Cancel(ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	again, err := f.ledger.Create(ctx, 8, f.seat.ID)
	require.NoError(t, err, "released seat can be reserved again")
	assert.NotEqual(t, r.ID, again.ID)
	assert.Equal(t, []string{
		events.ReservationCreated, events.ReservationConfirmed,
		events.ReservationCancelled, events.ReservationCreated,
	}, f.pub.types())
}

func TestCancelByOtherUserIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.ledger.Create(ctx, 7, f.seat.ID)
	require.NoError(t, err)

	_, err = f.ledger.CancelBy(ctx, r.ID, 8)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, model.SeatHeld, f.seatStatus(t))

	_, err = f.ledger.GetBy(ctx, r.ID, 8)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.ledger.CancelBy(ctx, r.ID, 7)
	require.NoError(t, err)
}

func TestFinalizeSellsConfirmedSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.ledger.Create(ctx, 7, f.seat.ID)
	require.NoError(t, err)

	_, err = f.ledger.Finalize(ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "pending cannot be sold")

	_, err = f.ledger.Confirm(ctx, r.ID)
	require.NoError(t, err)
	_, err = f.ledger.Finalize(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeatSold, f.seatStatus(t))

	_, err = f.ledger.Cancel(ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "sold seat cannot be released")
	got, _ := f.ledger.Get(ctx, r.ID)
	assert.Equal(t, model.ReservationConfirmed, got.Status, "failed cancel rolled back")
}

func TestExpireOnlyElapsedPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.ledger.Create(ctx, 7, f.seat.ID)
	require.NoError(t, err)

	expired, err := f.ledger.Expire(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, expired, "window still open")

	f.clock.Advance(5 * time.Minute)
	expired, err = f.ledger.Expire(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, expired)
	assert.Equal(t, model.SeatAvailable, f.seatStatus(t))

	expired, err = f.ledger.Expire(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker unreachable")

	r, err := f.ledger.Create(context.Background(), 7, f.seat.ID)
	require.NoError(t, err)
	assert.NotZero(t, r.ID)

	require.NotNil(t, f.hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, f.hook.LastEntry().Level)
	assert.Equal(t, events.ReservationCreated, f.hook.LastEntry().Data["event"])
}

func TestInputValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Create(ctx, 0, f.seat.ID)
	assert.ErrorIs(t, err, apperr.ErrInputInvalid)
	_, err = f.ledger.Create(ctx, 7, 0)
	assert.ErrorIs(t, err, apperr.ErrInputInvalid)
	_, err = f.ledger.Create(ctx, 7, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.ledger.Confirm(ctx, 0)
	assert.ErrorIs(t, err, apperr.ErrInputInvalid)
	_, err = f.ledger.Confirm(ctx, 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
