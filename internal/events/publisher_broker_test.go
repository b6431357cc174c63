package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/storefront/services/ecommerce/internal/metrics"
)

// brokerURL returns the RabbitMQ used by tests that need a live broker
func brokerURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("RABBITMQ_TEST_URL")
	if url == "" {
		t.Skip("RABBITMQ_TEST_URL not set")
	}
	return url
}

// brokerFixture owns a private exchange and queue and a side channel used to
// inspect and disturb them
type brokerFixture struct {
	topology Topology
	admin    *amqp.Channel
}

func newBrokerFixture(t *testing.T, url string) *brokerFixture {
	t.Helper()
	suffix := uuid.NewString()[:8]
	f := &brokerFixture{topology: Topology{
		Exchange:     "test.notifications." + suffix,
		ExchangeKind: "direct",
		Queue:        "test.notification_queue." + suffix,
	}}

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	ch, err := conn.Channel()
	require.NoError(t, err)
	f.admin = ch

	t.Cleanup(func() {
		_, _ = ch.QueueDelete(f.topology.Queue, false, false, false)
		_ = ch.ExchangeDelete(f.topology.Exchange, false, false)
		_ = conn.Close()
	})
	return f
}

func (f *brokerFixture) publisher(t *testing.T, url string) (*Publisher, *observer.ObservedLogs, *metrics.Metrics) {
	core, logs := observer.New(zap.InfoLevel)
	m := metrics.New(prometheus.NewRegistry())
	p := NewPublisher(PublisherConfig{
		URL:               url,
		Topology:          f.topology,
		ReconnectInterval: 50 * time.Millisecond,
		PublishTimeout:    5 * time.Second,
	}, zap.New(core), m)
	t.Cleanup(func() { _ = p.Close() })
	return p, logs, m
}

func (f *brokerFixture) receive(t *testing.T) Notification {
	t.Helper()
	var msg amqp.Delivery
	require.Eventually(t, func() bool {
		var ok bool
		var err error
		msg, ok, err = f.admin.Get(f.topology.Queue, true)
		return err == nil && ok
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.NotEmpty(t, msg.MessageId)
	n, err := DecodeNotification(msg.Body)
	require.NoError(t, err)
	return n
}

func TestPublisherDeliversToQueue(t *testing.T) {
	url := brokerURL(t)
	f := newBrokerFixture(t, url)
	p, _, m := f.publisher(t, url)

	p.Start()
	require.True(t, p.IsHealthy())

	p.Publish(context.Background(), OrderConfirmations(11, "a@example.com", "+1", time.Now())[0])

	n := f.receive(t)
	assert.Equal(t, TypeEmail, n.Type)
	assert.Equal(t, uint(11), n.OrderID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsPublished.WithLabelValues(metrics.ResultPublished)))
}

func TestPublisherRetriesOnceOnFreshSession(t *testing.T) {
	url := brokerURL(t)
	f := newBrokerFixture(t, url)
	p, logs, m := f.publisher(t, url)

	p.Start()
	before := p.session.Load()
	require.True(t, before.healthy())

	// The session still looks healthy, but the broker closes its channel on
	// the next publish because the exchange is gone.
	require.NoError(t, f.admin.ExchangeDelete(f.topology.Exchange, false, false))

	p.Publish(context.Background(), OrderConfirmations(12, "a@example.com", "+1", time.Now())[1])

	assert.Equal(t, 1, logs.FilterMessage("Publish failed, reconnecting").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsPublished.WithLabelValues(metrics.ResultPublished)))
	assert.Zero(t, testutil.ToFloat64(m.NotificationsPublished.WithLabelValues(metrics.ResultFailed)))
	assert.NotSame(t, before, p.session.Load())

	n := f.receive(t)
	assert.Equal(t, TypeSMS, n.Type)
	assert.Equal(t, uint(12), n.OrderID)
}

func TestPublisherRecoversDroppedConnection(t *testing.T) {
	url := brokerURL(t)
	f := newBrokerFixture(t, url)
	p, logs, _ := f.publisher(t, url)

	p.Start()
	dropped := p.session.Load()
	require.True(t, dropped.healthy())

	require.NoError(t, dropped.conn.Close())

	require.Eventually(t, func() bool {
		s := p.session.Load()
		return s != dropped && s.healthy()
	}, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("RabbitMQ connection recovered").Len() == 1
	}, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, logs.FilterMessage("RabbitMQ connection lost").Len(), 1)

	p.Publish(context.Background(), OrderConfirmations(13, "a@example.com", "+1", time.Now())[0])
	assert.Equal(t, uint(13), f.receive(t).OrderID)
}
