// Package httptransport composes the public router: operational endpoints
// plus the route groups each feature registers.
package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskgate/pkg/platform/httputil"
)

// RouteRegistrar mounts a feature's routes.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether one backing dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

const healthTimeout = 2 * time.Second

// NewRouter wires /healthz, /metrics and every registrar.
func NewRouter(gatherer prometheus.Gatherer, checks []HealthCheck, registrars ...RouteRegistrar) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", healthHandler(checks))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	for _, reg := range registrars {
		reg.Register(r)
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				resp.Checks[c.Name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.Name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
