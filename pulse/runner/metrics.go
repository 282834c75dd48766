package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the runner's Prometheus collectors.
type Metrics struct {
	Executions *prometheus.CounterVec
	Deferred   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cronctl_runner_executions_total",
				Help: "The total number of due entries processed, by job kind and result.",
			},
			[]string{"kind", "result"},
		),
		Deferred: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cronctl_runner_deferred_total",
				Help: "The total number of ordinary entries pushed to a later tick by admission control.",
			},
		),
	}
}

func (m *Metrics) record(kind, result string) {
	if m != nil {
		m.Executions.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) deferred(n int) {
	if m != nil {
		m.Deferred.Add(float64(n))
	}
}
