package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-admission/internal/apperr"
	"github.com/iliyamo/ticket-admission/internal/model"
)

const maxBackoff = 30 * time.Second

// CommandHandler applies the transitions a Command asks for.  The
// reservation ledger satisfies it.
type CommandHandler interface {
	Confirm(ctx context.Context, id uint64) (model.Reservation, error)
	Cancel(ctx context.Context, id uint64) (model.Reservation, error)
	Finalize(ctx context.Context, id uint64) (model.Reservation, error)
}

// Disposition tells the consume loop what to do with a delivery.
type Disposition int

const (
	Ack Disposition = iota
	Reject
	Requeue
)

// CommandConsumer reads Commands from a durable queue and applies them.
type CommandConsumer struct {
	url      string
	queue    string
	handler  CommandHandler
	log      logrus.FieldLogger
	validate *validator.Validate
	prefetch int

	dialTimeout time.Duration // bounds connect plus handshake
}

// NewCommandConsumer returns a consumer for queue on the broker at url.
func NewCommandConsumer(url, queue string, h CommandHandler, log logrus.FieldLogger) *CommandConsumer {
	return &CommandConsumer{
		url:         url,
		queue:       queue,
		handler:     h,
		log:         log.WithField("worker", "command-consumer"),
		validate:    validator.New(),
		prefetch:    50,
		dialTimeout: defaultDialTimeout,
	}
}

// Name identifies the consumer in logs.
func (c *CommandConsumer) Name() string { return "command-consumer" }

// Run connects, declares the queue (durable) and consumes until ctx is
// cancelled.  Connection failures are retried with exponential backoff
// capped at 30s; Run only returns once ctx is done.
func (c *CommandConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := dial(c.url, c.dialTimeout)
		if err != nil {
			c.log.WithError(err).Warnf("failed to dial broker; retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.log.WithError(err).Warn("consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *CommandConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.log.WithError(err).Warn("set QoS failed")
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			switch c.Handle(ctx, d.Body) {
			case Ack:
				_ = d.Ack(false)
			case Reject:
				_ = d.Nack(false, false)
			case Requeue:
				_ = d.Nack(false, true)
			}
		}
	}
}

// Handle decodes and applies one command body.  Malformed commands and
// commands refused for client-class reasons (unknown reservation, wrong
// state) are rejected so they do not loop; anything else is requeued.
// A lock timeout is requeued too: the seat was only busy, and a dropped
// confirm would strand funds the collaborator already took.
func (c *CommandConsumer) Handle(ctx context.Context, body []byte) Disposition {
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		c.log.WithError(err).Warn("unreadable command rejected")
		return Reject
	}
	if err := c.validate.Struct(cmd); err != nil {
		c.log.WithError(err).WithField("action", cmd.Action).Warn("invalid command rejected")
		return Reject
	}

	var err error
	switch cmd.Action {
	case ActionConfirm:
		_, err = c.handler.Confirm(ctx, cmd.ReservationID)
	case ActionCancel:
		_, err = c.handler.Cancel(ctx, cmd.ReservationID)
	case ActionFinalize:
		_, err = c.handler.Finalize(ctx, cmd.ReservationID)
	}

	entry := c.log.WithFields(logrus.Fields{"action": cmd.Action, "reservation_id": cmd.ReservationID})
	switch {
	case err == nil:
		entry.Info("command applied")
		return Ack
	case errors.Is(err, apperr.ErrLockTimeout):
		entry.WithError(err).Warn("seat busy; requeueing")
		return Requeue
	case apperr.IsClientError(err):
		entry.WithError(err).Warn("command refused")
		return Reject
	default:
		entry.WithError(err).Error("command failed; requeueing")
		return Requeue
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
