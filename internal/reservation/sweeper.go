package reservation

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-admission/internal/metrics"
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned int
	Expired int
	// Skipped counts reservations that were confirmed or cancelled
	// between listing and locking.
	Skipped int
	Failed  int
}

// Sweeper periodically expires PENDING reservations whose hold window has
// elapsed and returns their seats to AVAILABLE.
type Sweeper struct {
	ledger *Ledger
	limit  int
	log    logrus.FieldLogger
}

// NewSweeper returns a Sweeper that handles at most limit reservations per
// sweep.
func NewSweeper(l *Ledger, limit int, log logrus.FieldLogger) *Sweeper {
	if limit < 1 {
		limit = 500
	}
	return &Sweeper{ledger: l, limit: limit, log: log}
}

// Name identifies the sweeper in logs and metrics.
func (s *Sweeper) Name() string { return "expiration-sweeper" }

// Run performs one sweep.
func (s *Sweeper) Run(ctx context.Context) error {
	res, err := s.Sweep(ctx)
	if res.Expired+res.Failed > 0 {
		s.log.WithFields(logrus.Fields{
			"scanned": res.Scanned,
			"expired": res.Expired,
			"skipped": res.Skipped,
			"failed":  res.Failed,
		}).Info("sweep finished")
	}
	return err
}

// Sweep lists expired PENDING reservations and expires each one under its
// own seat lock.  A failure on one reservation is logged and skipped; only
// a failure to list candidates is returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	due, err := s.ledger.store.ListExpiredPending(ctx, s.ledger.opts.Now(), s.limit)
	if err != nil {
		return res, fmt.Errorf("list expired reservations: %w", err)
	}
	res.Scanned = len(due)
	for _, r := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		expired, err := s.ledger.Expire(ctx, r.ID)
		switch {
		case err != nil:
			res.Failed++
			s.log.WithError(err).WithFields(logrus.Fields{
				"reservation_id": r.ID,
				"seat_id":        r.SeatID,
			}).Warn("expire failed, skipping")
		case expired:
			res.Expired++
			metrics.SweeperExpired.Inc()
		default:
			res.Skipped++
		}
	}
	return res, nil
}
