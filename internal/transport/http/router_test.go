package httptransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskgate/pkg/testutil"
)

type pingRoutes struct{}

func (pingRoutes) Register(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestHealthz(t *testing.T) {
	ok := HealthCheck{Name: "postgres", Check: func(context.Context) error { return nil }}
	down := HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("dial tcp: refused") }}

	t.Run("all healthy", func(t *testing.T) {
		router := NewRouter(prometheus.NewRegistry(), []HealthCheck{ok})
		rr := testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		body := testutil.UnmarshalResponse[healthResponse](t, rr)
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, map[string]string{"postgres": "ok"}, body.Checks)
	})

	t.Run("one dependency down", func(t *testing.T) {
		router := NewRouter(prometheus.NewRegistry(), []HealthCheck{ok, down})
		rr := testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		body := testutil.UnmarshalResponse[healthResponse](t, rr)
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, "unavailable", body.Checks["redis"])
		assert.NotContains(t, rr.Body.String(), "refused")
	})
}

func TestMetricsAndRegistrars(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "taskgate_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	router := NewRouter(reg, nil, pingRoutes{})

	rr := testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "taskgate_test_total 1")

	rr = testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
