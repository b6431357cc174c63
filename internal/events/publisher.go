package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/storefront/services/ecommerce/internal/metrics"
	"github.com/storefront/services/ecommerce/internal/tracing"
)

// PublisherConfig configures the broker connection of a Publisher
type PublisherConfig struct {
	URL               string
	Topology          Topology
	ReconnectInterval time.Duration
	PublishTimeout    time.Duration
}

// session is one connection and its confirm-mode channel
type session struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (s *session) healthy() bool {
	return s != nil && !s.conn.IsClosed() && !s.ch.IsClosed()
}

func (s *session) close() {
	_ = s.ch.Close()
	_ = s.conn.Close()
}

// Publisher publishes notifications over a long-lived broker session. It
// never reports failures to its callers: a dead session is rebuilt on the
// next publish, or by a background loop when the connection drops between
// publishes, and anything that still fails is logged and counted.
type Publisher struct {
	cfg     PublisherConfig
	log     *zap.Logger
	metrics *metrics.Metrics

	session atomic.Pointer[session]
	// mu serializes session rebuilds; publishes on a healthy session do not take it
	mu sync.Mutex

	recovering atomic.Bool
	closed     atomic.Bool
	done       chan struct{}
	closeOnce  sync.Once
}

// NewPublisher creates a publisher. No connection is made until Start.
func NewPublisher(cfg PublisherConfig, log *zap.Logger, m *metrics.Metrics) *Publisher {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Publisher{
		cfg:     cfg,
		log:     log,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Start connects to the broker. When the broker is unreachable the publisher
// keeps retrying in the background; Start itself does not fail.
func (p *Publisher) Start() {
	if _, err := p.reconnect(nil); err != nil {
		p.log.Warn("RabbitMQ unavailable, publisher will keep retrying",
			zap.Duration("interval", p.cfg.ReconnectInterval),
			zap.Error(err),
		)
		p.recoverInBackground()
	}
}

// Publish sends n to the notifications exchange. Failures are logged and
// counted, never returned.
func (p *Publisher) Publish(ctx context.Context, n Notification) {
	if err := p.publish(ctx, n); err != nil {
		p.metrics.NotificationsPublished.WithLabelValues(metrics.ResultFailed).Inc()
		p.log.Error("Failed to publish notification",
			zap.String("event_type", n.Type),
			zap.Uint("order_id", n.OrderID),
			zap.Error(err),
		)
		return
	}
	p.metrics.NotificationsPublished.WithLabelValues(metrics.ResultPublished).Inc()
}

func (p *Publisher) publish(ctx context.Context, n Notification) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	body, err := json.Marshal(n)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal notification")
	}

	ctx, span := tracing.Tracer().Start(ctx, p.cfg.Topology.Exchange+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", p.cfg.Topology.Exchange),
			attribute.String("notification.type", n.Type),
		),
	)
	defer span.End()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    uuid.New().String(),
		Body:         body,
		Headers:      tracing.Inject(ctx, amqp.Table{"event_type": n.Type}),
	}

	err = p.publishOnce(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	p.log.Info("Notification published",
		zap.String("message_id", msg.MessageId),
		zap.String("event_type", n.Type),
		zap.Uint("order_id", n.OrderID),
	)
	return nil
}

// publishOnce sends msg on a healthy session. A failure on a session that
// looked healthy forces one rebuild and one retry.
func (p *Publisher) publishOnce(ctx context.Context, msg amqp.Publishing) error {
	s, err := p.ensureSession()
	if err != nil {
		p.recoverInBackground()
		return err
	}

	err = p.send(ctx, s, msg)
	if err == nil {
		return nil
	}

	p.log.Warn("Publish failed, reconnecting", zap.String("message_id", msg.MessageId), zap.Error(err))
	s, rerr := p.reconnect(s)
	if rerr != nil {
		p.recoverInBackground()
		return pkgerrors.Wrapf(rerr, "reconnect after publish failure (%v)", err)
	}
	return p.send(ctx, s, msg)
}

func (p *Publisher) send(ctx context.Context, s *session, msg amqp.Publishing) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	confirm, err := s.ch.PublishWithDeferredConfirmWithContext(
		ctx,
		p.cfg.Topology.Exchange,
		"",    // routing key
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to publish")
	}
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "waiting for publisher confirm")
	}
	if !acked {
		return pkgerrors.New("publish not acknowledged by broker")
	}
	return nil
}

// ensureSession returns the current session when healthy and rebuilds it otherwise
func (p *Publisher) ensureSession() (*session, error) {
	if s := p.session.Load(); s.healthy() {
		return s, nil
	}
	return p.reconnect(nil)
}

// reconnect rebuilds the session under the rebuild lock. A non-nil stale
// session is replaced even if it still looks healthy, unless another caller
// already swapped it out.
func (p *Publisher) reconnect(stale *session) (*session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return nil, ErrPublisherClosed
	}

	cur := p.session.Load()
	if cur.healthy() && cur != stale {
		return cur, nil
	}
	if cur != nil {
		p.session.Store(nil)
		cur.close()
	}

	s, closed, err := p.connect()
	if err != nil {
		return nil, err
	}
	p.session.Store(s)
	go p.watch(s, closed)

	p.log.Info("Connected to RabbitMQ",
		zap.String("exchange", p.cfg.Topology.Exchange),
		zap.String("queue", p.cfg.Topology.Queue),
	)
	return s, nil
}

func (p *Publisher) connect() (*session, chan *amqp.Error, error) {
	conn, err := dial(p.cfg.URL)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, pkgerrors.Wrap(err, "failed to open channel")
	}

	if err := declareTopology(ch, p.cfg.Topology); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, pkgerrors.Wrap(err, "failed to enable publisher confirms")
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	return &session{conn: conn, ch: ch}, closed, nil
}

// watch starts background recovery when s drops while it is still current
func (p *Publisher) watch(s *session, closed chan *amqp.Error) {
	select {
	case <-p.done:
		return
	case amqpErr := <-closed:
		if p.closed.Load() || p.session.Load() != s {
			return
		}
		fields := []zap.Field{zap.String("exchange", p.cfg.Topology.Exchange)}
		if amqpErr != nil {
			fields = append(fields, zap.Error(amqpErr))
		}
		p.log.Warn("RabbitMQ connection lost", fields...)
		p.recoverInBackground()
	}
}

// recoverInBackground retries the connection every ReconnectInterval until it
// succeeds or the publisher closes. At most one loop runs at a time.
func (p *Publisher) recoverInBackground() {
	if p.closed.Load() || !p.recovering.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer p.recovering.Store(false)

		ticker := time.NewTicker(p.cfg.ReconnectInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
			}

			if p.session.Load().healthy() {
				return
			}
			if _, err := p.reconnect(nil); err != nil {
				p.log.Warn("RabbitMQ reconnect failed", zap.Error(err))
				continue
			}
			p.log.Info("RabbitMQ connection recovered")
			return
		}
	}()
}

// IsHealthy reports whether the current session is open
func (p *Publisher) IsHealthy() bool {
	return p.session.Load().healthy()
}

// Close stops background recovery and closes the session. Calling it more than once is safe.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)

		p.mu.Lock()
		defer p.mu.Unlock()
		if s := p.session.Load(); s != nil {
			s.close()
			p.session.Store(nil)
		}
		p.log.Info("Publisher closed")
	})
	return nil
}
