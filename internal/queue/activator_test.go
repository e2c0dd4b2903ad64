package queue

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-admission/internal/model"
)

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func enqueueN(t *testing.T, q *Queue, n int) []model.QueueEntry {
	t.Helper()
	out := make([]model.QueueEntry, 0, n)
	for i := 1; i <= n; i++ {
		e, err := q.Enqueue(context.Background(), uint64(1000+i))
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestTickPromotesAllWhenFewerThanBatch(t *testing.T) {
	q, _, clk := newTestQueue(t)
	ctx := context.Background()
	entries := enqueueN(t, q, 4)

	res, err := NewActivator(q, ActivatorConfig{BatchSize: 10}, discardLogger()).Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Activated)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Waiting: 0, Active: 4}, st)

	for _, e := range entries {
		got, err := q.FindByToken(ctx, e.Token)
		require.NoError(t, err)
		assert.Equal(t, model.QueueActive, got.Status)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, got.ExpiresAt.Equal(clk.Now().Add(30*time.Minute)))
	}
}

func TestTickPromotesExactlyBatchInArrivalOrder(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	entries := enqueueN(t, q, 7)

	res, err := NewActivator(q, ActivatorConfig{BatchSize: 3}, discardLogger()).Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Activated)

	for i, e := range entries {
		active, err := q.IsActive(ctx, e.Token)
		require.NoError(t, err)
		assert.Equal(t, i < 3, active, "entry %d", i)
	}
	ahead, err := q.PositionOf(ctx, entries[6].Token)
	require.NoError(t, err)
	assert.EqualValues(t, 3, ahead)
}

func TestTickIsIdempotentPerToken(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	e := enqueueN(t, q, 1)[0]

	now := q.opts.Now()
	r1, err := q.promote(ctx, e.Token, now)
	require.NoError(t, err)
	r2, err := q.promote(ctx, e.Token, now.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, promoted, r1)
	assert.NotEqualValues(t, promoted, r2)

	got, err := q.FindByToken(ctx, e.Token)
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.Equal(now.Add(30*time.Minute)), "second promotion must not extend the window")
}

func TestTickRespectsMaxActive(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	enqueueN(t, q, 5)
	act := NewActivator(q, ActivatorConfig{BatchSize: 10, MaxActive: 2}, discardLogger())

	res, err := act.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Activated)

	res, err = act.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Activated, "no room until someone expires")
}

func TestTickDemotesElapsedAndSkipsBrokenEntries(t *testing.T) {
	q, mr, clk := newTestQueue(t)
	ctx := context.Background()
	entries := enqueueN(t, q, 3)
	logger, hook := test.NewNullLogger()
	act := NewActivator(q, ActivatorConfig{BatchSize: 2}, logger)

	_, err := act.Tick(ctx)
	require.NoError(t, err)

	// metadata of the third, still waiting entry vanishes
	mr.Del("tq:entry:" + entries[2].Token)
	clk.Advance(30 * time.Minute)

	res, err := act.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Expired)
	assert.Equal(t, 0, res.Activated)
	assert.Equal(t, 1, res.Skipped)

	for _, e := range entries[:2] {
		got, err := q.FindByToken(ctx, e.Token)
		require.NoError(t, err)
		assert.Equal(t, model.QueueExpired, got.Status)
		assert.False(t, mr.Exists(fmt.Sprintf("tq:user:%d", e.UserID)))
	}
	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, entries[2].Token, hook.LastEntry().Data["token"])
}

func TestTickFailsWhenStoreIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	q := New(rdb, Options{})
	_, err := NewActivator(q, ActivatorConfig{BatchSize: 1}, discardLogger()).Tick(context.Background())
	assert.Error(t, err)
}
