package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/storefront/services/ecommerce/internal/metrics"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []Notification
	block chan struct{}
}

func (s *recordingSender) Publish(_ context.Context, n Notification) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, 2, 16, time.Second, zap.NewNop(), metrics.NewNop())

	d.Enqueue(context.Background(), OrderConfirmations(1, "a@example.com", "+1", time.Now())...)
	d.Enqueue(context.Background(), OrderConfirmations(2, "b@example.com", "+2", time.Now())...)
	d.Close()

	assert.Equal(t, 4, sender.count())
}

func TestDispatcherNeverBlocksWhenFull(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(sender, 1, 1, time.Second, zap.NewNop(), m)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Enqueue(context.Background(), Notification{Type: TypeEmail, OrderID: uint(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	close(sender.block)
	d.Close()

	dropped := testutil.ToFloat64(m.NotificationsPublished.WithLabelValues(metrics.ResultDropped))
	assert.Equal(t, 10, sender.count()+int(dropped))
	assert.GreaterOrEqual(t, dropped, 8.0)
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	sender := &recordingSender{}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(sender, 1, 4, time.Second, zap.NewNop(), m)
	d.Close()
	d.Close()

	d.Enqueue(context.Background(), Notification{Type: TypeSMS, OrderID: 9})
	assert.Equal(t, 0, sender.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsPublished.WithLabelValues(metrics.ResultDropped)))
}
