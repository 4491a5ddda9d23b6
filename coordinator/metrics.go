package coordinator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts the coordinator's business events.
type Metrics struct {
	EscrowsCreated *prometheus.CounterVec
	Releases       *prometheus.CounterVec
	Disputes       prometheus.Counter
	ChatMessages   prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics builds the metric set against the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EscrowsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustora",
			Subsystem: "coordinator",
			Name:      "escrows_created_total",
			Help:      "Deals opened by chain.",
		}, []string{"chain"}),
		Releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustora",
			Subsystem: "coordinator",
			Name:      "releases_total",
			Help:      "Release requests by approval mode.",
		}, []string{"mode"}),
		Disputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trustora",
			Subsystem: "coordinator",
			Name:      "disputes_total",
			Help:      "Disputes opened.",
		}),
		ChatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trustora",
			Subsystem: "coordinator",
			Name:      "chat_messages_total",
			Help:      "Chat messages relayed.",
		}),
	}
	reg.MustRegister(m.EscrowsCreated, m.Releases, m.Disputes, m.ChatMessages)
	return m
}

// DefaultMetrics registers the metric set on the default registry exactly
// once.
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = NewMetrics(prometheus.DefaultRegisterer)
	})
	return metricsInst
}
