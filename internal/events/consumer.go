package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/storefront/services/ecommerce/internal/metrics"
	"github.com/storefront/services/ecommerce/internal/tracing"
)

// ConsumerConfig configures the notification consumer
type ConsumerConfig struct {
	URL               string
	Topology          Topology
	Tag               string
	Prefetch          int
	ReconnectInterval time.Duration
	// MaxAttempts moves a message to the dead-letter queue after that many
	// failed deliveries. Zero requeues forever.
	MaxAttempts int
}

type deadLetterFunc func(ctx context.Context, d amqp.Delivery) error

// Consumer reads notifications from the queue and hands them to a Sink.
// Every delivery ends in exactly one Ack or Nack(requeue).
type Consumer struct {
	cfg     ConsumerConfig
	sink    Sink
	log     *zap.Logger
	metrics *metrics.Metrics

	// failed delivery attempts per message key; only touched by the consume loop
	attempts  map[string]int
	connected atomic.Bool
}

// NewConsumer creates a consumer delivering to sink
func NewConsumer(cfg ConsumerConfig, sink Sink, log *zap.Logger, m *metrics.Metrics) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 10 * time.Second
	}
	return &Consumer{
		cfg:      cfg,
		sink:     sink,
		log:      log,
		metrics:  m,
		attempts: make(map[string]int),
	}
}

// Run consumes until ctx is cancelled, reconnecting every ReconnectInterval
// while the broker is unreachable
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.log.Info("Consumer stopped")
			return nil
		}
		c.log.Warn("Consumer disconnected, retrying",
			zap.Duration("interval", c.cfg.ReconnectInterval),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			c.log.Info("Consumer stopped")
			return nil
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

// consume runs one broker session and returns when it ends
func (c *Consumer) consume(ctx context.Context) error {
	conn, err := dial(c.cfg.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to open channel")
	}
	defer ch.Close()

	if err := declareTopology(ch, c.cfg.Topology); err != nil {
		return err
	}
	if c.cfg.MaxAttempts > 0 {
		if err := declareDeadLetterQueue(ch, c.cfg.Topology); err != nil {
			return err
		}
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return pkgerrors.Wrap(err, "failed to set QoS")
	}

	msgs, err := ch.Consume(
		c.cfg.Topology.Queue,
		c.cfg.Tag, // consumer tag
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to register consumer")
	}

	c.connected.Store(true)
	defer c.connected.Store(false)

	c.log.Info("Consumer connected to RabbitMQ",
		zap.String("queue", c.cfg.Topology.Queue),
		zap.Int("prefetch", c.cfg.Prefetch),
	)

	deadLetter := func(ctx context.Context, d amqp.Delivery) error {
		return ch.PublishWithContext(ctx, "", c.cfg.Topology.DeadLetterQueue(), false, false, amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    d.MessageId,
			Timestamp:    time.Now(),
			Headers:      d.Headers,
			Body:         d.Body,
		})
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr != nil {
				return amqpErr
			}
			return ErrTransportUnavailable
		case d, ok := <-msgs:
			if !ok {
				return pkgerrors.Wrap(ErrTransportUnavailable, "delivery channel closed")
			}
			c.handle(ctx, d, deadLetter)
		}
	}
}

// IsConnected reports whether the consumer currently holds a broker session
func (c *Consumer) IsConnected() bool {
	return c.connected.Load()
}

// handle processes one delivery and returns the recorded outcome
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, deadLetter deadLetterFunc) string {
	ctx = tracing.Extract(ctx, d.Headers)
	ctx, span := tracing.Tracer().Start(ctx, c.cfg.Topology.Queue+" process",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	outcome := c.process(ctx, d, deadLetter)
	if outcome != metrics.OutcomeAcked {
		span.SetStatus(codes.Error, outcome)
	}
	c.metrics.NotificationsConsumed.WithLabelValues(outcome).Inc()
	return outcome
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery, deadLetter deadLetterFunc) string {
	key := messageKey(d)

	n, err := DecodeNotification(d.Body)
	if err == nil {
		err = c.sink.Deliver(ctx, n)
	}
	if err == nil {
		delete(c.attempts, key)
		if ackErr := d.Ack(false); ackErr != nil {
			c.log.Error("Failed to ack notification", zap.String("message_id", d.MessageId), zap.Error(ackErr))
		}
		return metrics.OutcomeAcked
	}

	if c.cfg.MaxAttempts > 0 {
		c.attempts[key]++
		if attempts := c.attempts[key]; attempts >= c.cfg.MaxAttempts {
			dlErr := deadLetter(ctx, d)
			if dlErr == nil {
				delete(c.attempts, key)
				if ackErr := d.Ack(false); ackErr != nil {
					c.log.Error("Failed to ack dead-lettered notification", zap.String("message_id", d.MessageId), zap.Error(ackErr))
				}
				c.log.Warn("Notification dead-lettered",
					zap.String("message_id", d.MessageId),
					zap.Int("attempts", attempts),
					zap.String("queue", c.cfg.Topology.DeadLetterQueue()),
					zap.Error(err),
				)
				return metrics.OutcomeDeadLettered
			}
			c.log.Error("Failed to dead-letter notification", zap.String("message_id", d.MessageId), zap.Error(dlErr))
		}
	}

	c.log.Warn("Failed to process notification, requeueing",
		zap.String("message_id", d.MessageId),
		zap.Bool("malformed", pkgerrors.Is(err, ErrMalformedMessage)),
		zap.Error(err),
	)
	if nackErr := d.Nack(false, true); nackErr != nil {
		c.log.Error("Failed to nack notification", zap.String("message_id", d.MessageId), zap.Error(nackErr))
	}
	return metrics.OutcomeNacked
}

// messageKey identifies a delivery across redeliveries
func messageKey(d amqp.Delivery) string {
	if d.MessageId != "" {
		return d.MessageId
	}
	sum := sha256.Sum256(d.Body)
	return hex.EncodeToString(sum[:])
}
