package signer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts the signer's decisions.
type Metrics struct {
	AddressesIssued *prometheus.CounterVec
	Payouts         *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics builds the metric set against the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AddressesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustora",
			Subsystem: "signer",
			Name:      "addresses_issued_total",
			Help:      "Deposit addresses handed out by chain.",
		}, []string{"chain"}),
		Payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustora",
			Subsystem: "signer",
			Name:      "payouts_total",
			Help:      "Payout attempts by chain and result.",
		}, []string{"chain", "result"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustora",
			Subsystem: "signer",
			Name:      "rejections_total",
			Help:      "Rejected requests by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.AddressesIssued, m.Payouts, m.Rejections)
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
