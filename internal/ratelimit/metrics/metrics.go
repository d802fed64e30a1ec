package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejected       *prometheus.CounterVec
	StoreFailures  prometheus.Counter
	DegradedChecks prometheus.Counter
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskgate_ratelimit_rejected_total",
			Help: "Requests rejected by the per-tenant limiter, by limiter mode",
		}, []string{"mode"}),
		StoreFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "taskgate_ratelimit_store_failures_total",
			Help: "Primary rate limit store errors",
		}),
		DegradedChecks: f.NewCounter(prometheus.CounterOpts{
			Name: "taskgate_ratelimit_degraded_checks_total",
			Help: "Checks answered by the in-memory fallback",
		}),
	}
}

func (m *Metrics) IncRejected(degraded bool) {
	if m == nil {
		return
	}
	mode := "primary"
	if degraded {
		mode = "fallback"
	}
	m.Rejected.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncStoreFailure() {
	if m == nil {
		return
	}
	m.StoreFailures.Inc()
}

func (m *Metrics) IncDegraded() {
	if m == nil {
		return
	}
	m.DegradedChecks.Inc()
}
