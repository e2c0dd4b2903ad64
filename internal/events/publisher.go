package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-admission/internal/metrics"
)

// ErrBufferFull is returned by RabbitPublisher.Publish when the outgoing
// buffer has no room; the event is dropped.
var ErrBufferFull = errors.New("event buffer full")

const (
	defaultBuffer      = 1024
	defaultDialTimeout = 5 * time.Second
	sendTimeout        = 5 * time.Second
)

// PublisherOptions sizes the outgoing buffer and bounds broker handshakes.
type PublisherOptions struct {
	Buffer      int
	DialTimeout time.Duration
}

// RabbitPublisher publishes ReservationEvents to a durable queue on the
// default exchange.  Publish only enqueues into a bounded buffer; a single
// Run goroutine owns the connection and drains it, so a slow or hung
// broker never stalls the caller.  Messages are marked persistent.
type RabbitPublisher struct {
	url         string
	queue       string
	log         logrus.FieldLogger
	dialTimeout time.Duration
	buf         chan ReservationEvent

	// owned by Run
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitPublisher returns a publisher for queue on the broker at url.
// Nothing is sent until Run is started.
func NewRabbitPublisher(url, queue string, opts PublisherOptions, log logrus.FieldLogger) *RabbitPublisher {
	if opts.Buffer < 1 {
		opts.Buffer = defaultBuffer
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &RabbitPublisher{
		url:         url,
		queue:       queue,
		log:         log.WithField("worker", "event-publisher"),
		dialTimeout: opts.DialTimeout,
		buf:         make(chan ReservationEvent, opts.Buffer),
	}
}

// Publish hands ev to the sender without blocking.  It fails with
// ErrBufferFull when the sender has fallen behind.
func (p *RabbitPublisher) Publish(_ context.Context, ev ReservationEvent) error {
	select {
	case p.buf <- ev:
		return nil
	default:
		metrics.EventsDropped.WithLabelValues("buffer_full").Inc()
		return fmt.Errorf("publish %s: %w", ev.Type, ErrBufferFull)
	}
}

// Run sends buffered events until ctx is cancelled.  Events still
// buffered at that point are discarded.
func (p *RabbitPublisher) Run(ctx context.Context) error {
	defer p.reset()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.buf:
			if err := p.send(ctx, ev); err != nil {
				metrics.EventsDropped.WithLabelValues("publish_failed").Inc()
				p.log.WithError(err).WithFields(logrus.Fields{
					"event":          ev.Type,
					"reservation_id": ev.ReservationID,
				}).Warn("event dropped")
			}
		}
	}
}

func (p *RabbitPublisher) send(ctx context.Context, ev ReservationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = p.ensureChannel(); err != nil {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = p.ch.PublishWithContext(sctx,
			"",      // default exchange
			p.queue, // routing key = queue name
			false,   // mandatory
			false,   // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now().UTC(),
				Type:         ev.Type,
				Body:         body,
			})
		cancel()
		if err == nil {
			return nil
		}
		p.log.WithError(err).WithField("event", ev.Type).Warn("rabbitmq: publish failed, reconnecting")
		p.reset()
	}
	return fmt.Errorf("publish %s: %w", ev.Type, err)
}

func (p *RabbitPublisher) ensureChannel() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.reset()
	conn, err := dial(p.url, p.dialTimeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("channel open: %w", err)
	}
	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *RabbitPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// dial connects with timeout bounding both the TCP connect and the AMQP
// handshake; amqp.Dial alone waits 30s on a broker that accepts but never
// answers.
func dial(url string, timeout time.Duration) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
}
