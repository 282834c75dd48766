package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors updated after every pass.
type Metrics struct {
	// Mutations counts queue and entity writes by pass and operation
	// (created, cancelled, finalized, purged).
	Mutations *prometheus.CounterVec

	// Failures counts per-item store failures by pass.
	Failures *prometheus.CounterVec

	// PassDuration observes how long each pass took.
	PassDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which suits tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cronctl_reconcile_mutations_total",
				Help: "The total number of reconciliation writes.",
			},
			[]string{"pass", "op"},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cronctl_reconcile_failures_total",
				Help: "The total number of items left unconverged by a store failure.",
			},
			[]string{"pass"},
		),
		PassDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cronctl_reconcile_pass_duration_seconds",
				Help:    "A histogram of reconciliation pass durations.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"pass"},
		),
	}
}

func (m *Metrics) observe(r Report) {
	if m == nil {
		return
	}
	for op, n := range map[string]int{
		"created":   r.Created,
		"cancelled": r.Cancelled,
		"finalized": r.Finalized,
		"purged":    r.Purged,
	} {
		if n > 0 {
			m.Mutations.WithLabelValues(r.Pass, op).Add(float64(n))
		}
	}
	if r.Failures > 0 {
		m.Failures.WithLabelValues(r.Pass).Add(float64(r.Failures))
	}
	m.PassDuration.WithLabelValues(r.Pass).Observe(r.Duration.Seconds())
}
