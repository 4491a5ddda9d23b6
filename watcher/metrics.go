package watcher

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts scan passes and recorded deposits per chain.
type Metrics struct {
	Scans      *prometheus.CounterVec
	Deposits   *prometheus.CounterVec
	ScanErrors *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics builds the metric set against the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustora",
			Subsystem: "watcher",
			Name:      "scans_total",
			Help:      "Completed scan passes by chain and kind.",
		}, []string{"chain", "kind"}),
		Deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustora",
			Subsystem: "watcher",
			Name:      "deposits_total",
			Help:      "Deposits recorded by chain and resulting status.",
		}, []string{"chain", "status"}),
		ScanErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustora",
			Subsystem: "watcher",
			Name:      "scan_errors_total",
			Help:      "Failed scan passes by chain.",
		}, []string{"chain"}),
	}
	reg.MustRegister(m.Scans, m.Deposits, m.ScanErrors)
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
