// Package metrics holds the Prometheus collectors shared by the queue,
// the reservation ledger and the background workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ticket_queue_waiting",
		Help: "Entries currently waiting for admission",
	})

	QueueActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ticket_queue_active",
		Help: "Entries currently admitted",
	})

	QueueEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_queue_enqueued_total",
		Help: "Entries added to the waiting room",
	})

	QueueActivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_queue_activated_total",
		Help: "Entries promoted from waiting to active",
	})

	QueueExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_queue_expired_total",
		Help: "Entries demoted to expired, by the activator or an explicit leave",
	})

	QueueActivationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_queue_activation_errors_total",
		Help: "Per-entry failures skipped during activation ticks",
	})

	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_reservations_total",
		Help: "Reservation operations by result",
	}, []string{"result"})

	SeatLockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ticket_seat_lock_wait_seconds",
		Help:    "Time spent waiting for a seat lock",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})

	SweeperExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_sweeper_expired_total",
		Help: "Pending reservations expired by the sweeper",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_events_dropped_total",
		Help: "Domain events that were never delivered to the broker, by reason",
	}, []string{"reason"})

	WorkerTick = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticket_worker_tick_seconds",
		Help:    "Duration of one background worker iteration",
		Buckets: prometheus.DefBuckets,
	}, []string{"worker"})
)
