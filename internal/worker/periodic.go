// Package worker runs background tasks on a fixed period.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-admission/internal/metrics"
)

// Task is one unit of periodic work.  The activator and the sweeper both
// satisfy it.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// Periodic runs a Task every Interval until its context is cancelled.
// Iterations never overlap: the next one is scheduled only after the
// current one returns, and ticks missed while a long iteration ran are
// dropped by the ticker.
type Periodic struct {
	task     Task
	interval time.Duration
	log      logrus.FieldLogger
}

// NewPeriodic returns a Periodic for task.
func NewPeriodic(task Task, interval time.Duration, log logrus.FieldLogger) *Periodic {
	if interval <= 0 {
		interval = time.Second
	}
	return &Periodic{
		task:     task,
		interval: interval,
		log:      log.WithField("worker", task.Name()),
	}
}

// Run blocks until ctx is cancelled.  It runs one iteration immediately and
// then one per interval.  Errors and panics in an iteration are logged and
// never stop the loop.  Run always returns nil so it can sit in an
// errgroup without tearing the process down.
func (p *Periodic) Run(ctx context.Context) error {
	p.log.WithField("interval", p.interval.String()).Info("worker started")
	defer p.log.Info("worker stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Once(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Once runs a single iteration with panic recovery and timing.
func (p *Periodic) Once(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	defer func() {
		metrics.WorkerTick.WithLabelValues(p.task.Name()).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			p.log.WithField("stack", string(debug.Stack())).
				Errorf("iteration panicked: %v", r)
		}
	}()

	if err := p.task.Run(ctx); err != nil && ctx.Err() == nil {
		p.log.WithError(fmt.Errorf("%s: %w", p.task.Name(), err)).Error("iteration failed")
	}
}
