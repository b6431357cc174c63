package events

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/storefront/services/ecommerce/internal/metrics"
)

// Sender publishes a notification. Implementations absorb their own failures.
type Sender interface {
	Publish(ctx context.Context, n Notification)
}

type envelope struct {
	n    Notification
	span trace.SpanContext
}

// Dispatcher hands notifications to a Sender from a fixed worker pool so
// that callers never wait on the broker.
type Dispatcher struct {
	sender  Sender
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan envelope
	wg     sync.WaitGroup
}

// NewDispatcher starts workers goroutines draining a queue of buffer notifications.
// timeout bounds each publish.
func NewDispatcher(sender Sender, workers, buffer int, timeout time.Duration, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	d := &Dispatcher{
		sender:  sender,
		log:     log,
		metrics: m,
		timeout: timeout,
		queue:   make(chan envelope, buffer),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue schedules notifications for publishing. It never blocks: when the
// queue is full or the dispatcher is closed the notification is dropped and logged.
func (d *Dispatcher) Enqueue(ctx context.Context, notifications ...Notification) {
	spanCtx := trace.SpanContextFromContext(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, n := range notifications {
		if d.closed {
			d.drop(n, "dispatcher closed")
			continue
		}
		select {
		case d.queue <- envelope{n: n, span: spanCtx}:
		default:
			d.drop(n, "dispatch queue full")
		}
	}
}

func (d *Dispatcher) drop(n Notification, reason string) {
	d.metrics.NotificationsPublished.WithLabelValues(metrics.ResultDropped).Inc()
	d.log.Error("Dropping notification",
		zap.String("reason", reason),
		zap.String("event_type", n.Type),
		zap.Uint("order_id", n.OrderID),
	)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for env := range d.queue {
		// Detached from the request: the order is already committed.
		ctx := trace.ContextWithRemoteSpanContext(context.Background(), env.span)
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		d.sender.Publish(ctx, env.n)
		cancel()
	}
}

// Close stops intake and waits for queued notifications to be handed to the Sender
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("Dispatcher drained")
}
