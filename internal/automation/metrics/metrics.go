// Package metrics exposes Prometheus instruments for the automation gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics tracks parsing, resolution, execution and audit outcomes.
type Metrics struct {
	ParseResults      *prometheus.CounterVec
	Resolutions       *prometheus.CounterVec
	Executions        *prometheus.CounterVec
	Denials           *prometheus.CounterVec
	Replays           prometheus.Counter
	AuditFailures     *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	HandlerDuration   *prometheus.HistogramVec
}

// New registers the metrics with the default registry. Call once per process.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics with reg. Tests pass a fresh registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ParseResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskgate_parse_results_total",
			Help: "Intent parse attempts by result kind",
		}, []string{"kind"}),
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskgate_resolutions_total",
			Help: "Reference resolutions by field and outcome",
		}, []string{"field", "outcome"}),
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskgate_executions_total",
			Help: "Gateway executions by action and result status",
		}, []string{"action", "status"}),
		Denials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskgate_execution_denials_total",
			Help: "Gateway denials by error code",
		}, []string{"code"}),
		Replays: f.NewCounter(prometheus.CounterOpts{
			Name: "taskgate_execution_replays_total",
			Help: "Executions answered from a completed idempotency record",
		}),
		AuditFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskgate_audit_write_failures_total",
			Help: "Audit sink write failures by sink",
		}, []string{"sink"}),
		ExecutionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskgate_execution_duration_seconds",
			Help:    "Duration of gateway Execute calls",
			Buckets: durationBuckets,
		}, []string{"action"}),
		HandlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskgate_handler_duration_seconds",
			Help:    "Duration of handler dispatch",
			Buckets: durationBuckets,
		}, []string{"intent_key"}),
	}
}

// The helpers below are nil-safe so services can run without metrics.

func (m *Metrics) IncParseResult(kind string) {
	if m == nil {
		return
	}
	m.ParseResults.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncResolution(field, outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(field, outcome).Inc()
}

func (m *Metrics) IncExecution(action, status string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(action, status).Inc()
}

func (m *Metrics) IncDenial(code string) {
	if m == nil {
		return
	}
	m.Denials.WithLabelValues(code).Inc()
}

func (m *Metrics) IncReplay() {
	if m == nil {
		return
	}
	m.Replays.Inc()
}

func (m *Metrics) IncAuditFailure(sink string) {
	if m == nil {
		return
	}
	m.AuditFailures.WithLabelValues(sink).Inc()
}

// ObserveExecution records an Execute call started at start.
func (m *Metrics) ObserveExecution(action string, start time.Time) {
	if m == nil {
		return
	}
	m.ExecutionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

// ObserveHandler records a handler run of length d.
func (m *Metrics) ObserveHandler(intentKey string, d time.Duration) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(intentKey).Observe(d.Seconds())
}
