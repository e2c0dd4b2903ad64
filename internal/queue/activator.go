package queue

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-admission/internal/metrics"
)

const demotePage = 1000

// ActivatorConfig sizes each activation tick.
type ActivatorConfig struct {
	BatchSize int // entries promoted per tick
	MaxActive int // cap on concurrently active entries, 0 = none
}

// Activator periodically demotes elapsed active entries and promotes the
// front of the waiting line.  It is safe to run several activators
// against the same Redis: every per-token step re-checks state inside its
// script.
type Activator struct {
	q   *Queue
	cfg ActivatorConfig
	log logrus.FieldLogger
}

// TickResult summarises one tick.
type TickResult struct {
	Expired   int `json:"expired"`
	Activated int `json:"activated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// NewActivator wires an Activator to q.
func NewActivator(q *Queue, cfg ActivatorConfig, log logrus.FieldLogger) *Activator {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Activator{q: q, cfg: cfg, log: log}
}

// Name identifies the activator in logs and metrics.
func (a *Activator) Name() string { return "queue-activator" }

// Run performs one tick; it lets the Activator be driven by a periodic
// worker.
func (a *Activator) Run(ctx context.Context) error {
	res, err := a.Tick(ctx)
	if res.Expired+res.Activated+res.Failed > 0 {
		a.log.WithFields(logrus.Fields{
			"expired":   res.Expired,
			"activated": res.Activated,
			"skipped":   res.Skipped,
			"failed":    res.Failed,
		}).Info("activation tick")
	}
	return err
}

// Tick runs the three steps in order: demote, budget, promote.  A failure
// on one entry is logged and skipped; only failures to list candidates
// abort the tick.
func (a *Activator) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	now := a.q.opts.Now()

	// 1. demote elapsed active entries
	kept := 0
	for {
		tokens, err := a.q.expiredActive(ctx, now, kept, demotePage)
		if err != nil {
			return res, fmt.Errorf("list expired active: %w", err)
		}
		for _, tok := range tokens {
			r, err := a.q.expire(ctx, tok, now, false)
			switch {
			case err != nil:
				kept++
				res.Failed++
				metrics.QueueActivationErrors.Inc()
				a.log.WithError(err).WithField("token", tok).Warn("demote failed, skipping")
			case r == expiredNow:
				res.Expired++
				metrics.QueueExpired.Inc()
			case r == stillActive:
				kept++
			}
		}
		if len(tokens) < demotePage {
			break
		}
	}

	// 2. budget
	budget := a.cfg.BatchSize
	if a.cfg.MaxActive > 0 {
		active, err := a.q.rdb.ZCard(ctx, a.q.keys.active()).Result()
		if err != nil {
			return res, fmt.Errorf("count active: %w", err)
		}
		if room := a.cfg.MaxActive - int(active); room < budget {
			budget = room
		}
	}
	if budget <= 0 {
		a.refreshGauges(ctx)
		return res, nil
	}

	// 3. promote from the front of the line
	tokens, err := a.q.head(ctx, budget)
	if err != nil {
		return res, fmt.Errorf("read waiting head: %w", err)
	}
	for _, tok := range tokens {
		r, err := a.q.promote(ctx, tok, now)
		switch {
		case err != nil:
			res.Failed++
			metrics.QueueActivationErrors.Inc()
			a.log.WithError(err).WithField("token", tok).Warn("promote failed, skipping")
		case r == promoted:
			res.Activated++
			metrics.QueueActivated.Inc()
		case r == metadataGone:
			res.Skipped++
			a.log.WithField("token", tok).Warn("waiting token without metadata dropped")
		default:
			res.Skipped++
		}
	}
	a.refreshGauges(ctx)
	return res, nil
}

func (a *Activator) refreshGauges(ctx context.Context) {
	st, err := a.q.Stats(ctx)
	if err != nil {
		return
	}
	metrics.QueueWaiting.Set(float64(st.Waiting))
	metrics.QueueActive.Set(float64(st.Active))
}
