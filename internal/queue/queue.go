// Package queue implements the virtual waiting room on top of Redis.
//
// Waiting tokens live in a sorted set scored by their insertion position,
// admitted tokens in a second sorted set scored by their expiry, and each
// token has a metadata hash plus a user->token reverse index used for
// duplicate detection.  All compound writes are Lua scripts (see
// scripts.go); reads are plain commands.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/metrics"
	"github.com/iliyamo/ticket-admission/internal/model"
)

// Options tunes entry lifetimes.  Zero values are replaced with defaults.
type Options struct {
	KeyPrefix    string
	ActiveWindow time.Duration    // eligibility granted by activation
	EntryTTL     time.Duration    // lifetime of a waiting entry
	Retention    time.Duration    // how long expired entries remain readable
	Now          func() time.Time // clock, time.Now when nil
}

// Queue is the admission ledger.
type Queue struct {
	rdb  redis.UniversalClient
	keys keyspace
	opts Options
}

// Stats is a point-in-time view of the queue sizes.
type Stats struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
}

// New returns a Queue using rdb as its backing store.
func New(rdb redis.UniversalClient, opts Options) *Queue {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "tq"
	}
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = 30 * time.Minute
	}
	if opts.EntryTTL <= 0 {
		opts.EntryTTL = 24 * time.Hour
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{rdb: rdb, keys: keyspace{prefix: opts.KeyPrefix}, opts: opts}
}

// Enqueue places userID at the back of the waiting line.  It fails with
// apperr.ErrAlreadyQueued while the user still owns a waiting entry or an
// active entry whose window has not elapsed.
func (q *Queue) Enqueue(ctx context.Context, userID uint64) (model.QueueEntry, error) {
	if userID == 0 {
		return model.QueueEntry{}, fmt.Errorf("%w: user id is required", apperr.ErrInputInvalid)
	}
	token := uuid.NewString()
	now := q.opts.Now().UTC()
	uid := strconv.FormatUint(userID, 10)

	res, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.keys.user(uid), q.keys.seq(), q.keys.waiting(), q.keys.entry(token)},
		token, uid, now.UnixMilli(), q.opts.EntryTTL.Milliseconds(), q.keys.entryPrefix(),
	).Slice()
	if err != nil {
		return model.QueueEntry{}, fmt.Errorf("enqueue user %d: %w", userID, err)
	}
	if len(res) != 2 {
		return model.QueueEntry{}, fmt.Errorf("enqueue user %d: unexpected script reply %v", userID, res)
	}
	if created, _ := res[0].(int64); created != 1 {
		return model.QueueEntry{}, fmt.Errorf("%w: user %d", apperr.ErrAlreadyQueued, userID)
	}
	pos, _ := res[1].(int64)
	metrics.QueueEnqueued.Inc()
	return model.QueueEntry{
		Token:     token,
		UserID:    userID,
		Position:  pos,
		Status:    model.QueueWaiting,
		EnteredAt: time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

// FindByToken loads the entry for token or returns apperr.ErrNotFound.
func (q *Queue) FindByToken(ctx context.Context, token string) (model.QueueEntry, error) {
	if token == "" {
		return model.QueueEntry{}, fmt.Errorf("%w: token is required", apperr.ErrInputInvalid)
	}
	fields, err := q.rdb.HGetAll(ctx, q.keys.entry(token)).Result()
	if err != nil {
		return model.QueueEntry{}, fmt.Errorf("load entry %s: %w", token, err)
	}
	if len(fields) == 0 {
		return model.QueueEntry{}, fmt.Errorf("%w: queue token", apperr.ErrNotFound)
	}
	return parseEntry(token, fields)
}

// PositionOf returns how many entries are still waiting ahead of token:
// the waiting entries with a strictly smaller insertion position.  It is
// a filtered count rather than a subtraction so gaps left by departed
// entries are not counted.  Entries that are not waiting have nobody
// ahead of them.
func (q *Queue) PositionOf(ctx context.Context, token string) (int64, error) {
	e, err := q.FindByToken(ctx, token)
	if err != nil {
		return 0, err
	}
	return q.aheadOf(ctx, e)
}

func (q *Queue) aheadOf(ctx context.Context, e model.QueueEntry) (int64, error) {
	if e.Status != model.QueueWaiting {
		return 0, nil
	}
	n, err := q.rdb.ZCount(ctx, q.keys.waiting(), "-inf", "("+strconv.FormatInt(e.Position, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("count ahead of %s: %w", e.Token, err)
	}
	return n, nil
}

// Lookup returns the entry together with its ahead count.
func (q *Queue) Lookup(ctx context.Context, token string) (model.QueueEntry, int64, error) {
	e, err := q.FindByToken(ctx, token)
	if err != nil {
		return model.QueueEntry{}, 0, err
	}
	ahead, err := q.aheadOf(ctx, e)
	if err != nil {
		return model.QueueEntry{}, 0, err
	}
	return e, ahead, nil
}

// IsActive reports whether token is admitted right now.  Unknown tokens
// are simply not active.
func (q *Queue) IsActive(ctx context.Context, token string) (bool, error) {
	e, err := q.FindByToken(ctx, token)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.ActiveAt(q.opts.Now()), nil
}

// Leave expires token immediately, whether it is waiting or active.
// Leaving an already expired entry is a no-op.
func (q *Queue) Leave(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: token is required", apperr.ErrInputInvalid)
	}
	res, err := q.expire(ctx, token, q.opts.Now(), true)
	if err != nil {
		return err
	}
	if res == metadataGone {
		return fmt.Errorf("%w: queue token", apperr.ErrNotFound)
	}
	if res == expiredNow {
		metrics.QueueExpired.Inc()
	}
	return nil
}

// Stats returns the current waiting and active counts.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	w, err := q.rdb.ZCard(ctx, q.keys.waiting()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("count waiting: %w", err)
	}
	a, err := q.rdb.ZCard(ctx, q.keys.active()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("count active: %w", err)
	}
	return Stats{Waiting: w, Active: a}, nil
}

// Ping checks the connection to the queue store.
func (q *Queue) Ping(ctx context.Context) error { return q.rdb.Ping(ctx).Err() }

// EstimateWait converts an ahead count into a display estimate based on
// the activation throughput (batchSize entries per period).  It is never
// a promise.
func EstimateWait(ahead int64, batchSize int, period time.Duration) time.Duration {
	if ahead <= 0 || batchSize <= 0 {
		return 0
	}
	perEntry := float64(period) / float64(batchSize)
	return time.Duration(float64(ahead) * perEntry).Round(time.Second)
}

func (q *Queue) expire(ctx context.Context, token string, now time.Time, force bool) (int64, error) {
	flag := "0"
	if force {
		flag = "1"
	}
	res, err := expireScript.Run(ctx, q.rdb,
		[]string{q.keys.entry(token), q.keys.active(), q.keys.waiting()},
		token, now.UnixMilli(), q.opts.Retention.Milliseconds(), q.keys.userPrefix(), flag,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("expire %s: %w", token, err)
	}
	return res, nil
}

func (q *Queue) promote(ctx context.Context, token string, now time.Time) (int64, error) {
	exp := now.Add(q.opts.ActiveWindow)
	res, err := promoteScript.Run(ctx, q.rdb,
		[]string{q.keys.entry(token), q.keys.waiting(), q.keys.active()},
		token, exp.UnixMilli(), (q.opts.ActiveWindow + q.opts.Retention).Milliseconds(),
		q.opts.ActiveWindow.Milliseconds(), q.keys.userPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("promote %s: %w", token, err)
	}
	return res, nil
}

// head returns up to n waiting tokens in arrival order.
func (q *Queue) head(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return q.rdb.ZRange(ctx, q.keys.waiting(), 0, int64(n-1)).Result()
}

// expiredActive returns up to limit active tokens whose window ended at
// or before now, skipping the first offset of them.
func (q *Queue) expiredActive(ctx context.Context, now time.Time, offset, limit int) ([]string, error) {
	return q.rdb.ZRangeByScore(ctx, q.keys.active(), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: int64(offset),
		Count:  int64(limit),
	}).Result()
}

func parseEntry(token string, f map[string]string) (model.QueueEntry, error) {
	e := model.QueueEntry{Token: token, Status: model.QueueStatus(f["status"])}
	var err error
	if e.UserID, err = strconv.ParseUint(f["user_id"], 10, 64); err != nil {
		return model.QueueEntry{}, fmt.Errorf("entry %s: bad user_id %q", token, f["user_id"])
	}
	if e.Position, err = strconv.ParseInt(f["position"], 10, 64); err != nil {
		return model.QueueEntry{}, fmt.Errorf("entry %s: bad position %q", token, f["position"])
	}
	entered, err := strconv.ParseInt(f["entered_at"], 10, 64)
	if err != nil {
		return model.QueueEntry{}, fmt.Errorf("entry %s: bad entered_at %q", token, f["entered_at"])
	}
	e.EnteredAt = time.UnixMilli(entered).UTC()
	if raw := f["expires_at"]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return model.QueueEntry{}, fmt.Errorf("entry %s: bad expires_at %q", token, raw)
		}
		exp := time.UnixMilli(ms).UTC()
		e.ExpiresAt = &exp
	}
	return e, nil
}

type keyspace struct{ prefix string }

func (k keyspace) seq() string               { return k.prefix + ":seq" }
func (k keyspace) waiting() string           { return k.prefix + ":waiting" }
func (k keyspace) active() string            { return k.prefix + ":active" }
func (k keyspace) entryPrefix() string       { return k.prefix + ":entry:" }
func (k keyspace) entry(token string) string { return k.entryPrefix() + token }
func (k keyspace) userPrefix() string        { return k.prefix + ":user:" }
func (k keyspace) user(uid string) string    { return k.userPrefix() + uid }
