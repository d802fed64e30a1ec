package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := NewWith(prometheus.NewRegistry())

	m.IncExecution("approve-and-execute", "success")
	m.IncExecution("approve-and-execute", "success")
	m.IncDenial("catalog_denied")
	m.IncReplay()
	m.ObserveExecution("approve-and-execute", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Executions.WithLabelValues("approve-and-execute", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Denials.WithLabelValues("catalog_denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Replays))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncParseResult("ok")
		m.IncResolution("student_id", "resolved")
		m.IncAuditFailure("chain")
		m.ObserveHandler("student.exec.pause", time.Millisecond)
	})
}
