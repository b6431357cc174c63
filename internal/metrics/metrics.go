// Package metrics defines the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ecommerce"

// Label values
const (
	ResultPublished = "published"
	ResultFailed    = "failed"
	ResultDropped   = "dropped"

	OutcomeAcked        = "acked"
	OutcomeNacked       = "nacked"
	OutcomeDeadLettered = "dead_lettered"

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics groups the counters shared by the order pipeline
type Metrics struct {
	OrdersCreated          prometheus.Counter
	OrdersRejected         *prometheus.CounterVec
	NotificationsPublished *prometheus.CounterVec
	NotificationsConsumed  *prometheus.CounterVec
	CacheLookups           *prometheus.CounterVec
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OrdersCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders committed with their stock reservations.",
		}),
		OrdersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Order creations rejected before commit, by reason.",
		}, []string{"reason"}),
		NotificationsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Notification publish attempts, by result.",
		}, []string{"result"}),
		NotificationsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_consumed_total",
			Help:      "Notification deliveries handled by the consumer, by outcome.",
		}, []string{"outcome"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache reads, by result.",
		}, []string{"result"}),
	}
}

// NewNop returns collectors registered nowhere, for components built without metrics
func NewNop() *Metrics {
	return New(nil)
}
