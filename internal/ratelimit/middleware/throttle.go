package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"taskgate/pkg/platform/httputil"
	"taskgate/pkg/requestcontext"
)

// GlobalThrottle caps process-wide request throughput ahead of authentication
// so token validation itself cannot be flooded.
type GlobalThrottle struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewGlobalThrottle(rps float64, burst int, logger *slog.Logger) *GlobalThrottle {
	return &GlobalThrottle{limiter: rate.NewLimiter(rate.Limit(rps), burst), logger: logger}
}

type overloadedResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

func (g *GlobalThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.limiter.Allow() {
			g.logger.WarnContext(r.Context(), "global throttle rejected request",
				"request_id", requestcontext.RequestID(r.Context()),
			)
			w.Header().Set("Retry-After", "1")
			httputil.WriteJSON(w, http.StatusServiceUnavailable, overloadedResponse{
				Error:      "service_unavailable",
				Message:    "Service is temporarily overloaded. Please try again later.",
				RetryAfter: 1,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
