package rest

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter mounts the API routes and the middleware chain. gatherer backs
// the /metrics endpoint.
func NewRouter(h *Handler, metrics *HTTPMetrics, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /v1/kpis/{domain}", metrics.Instrument("get_kpis", h.handleGetKpis))
	mux.HandleFunc("GET /v1/kpis/{domain}/named/{period}", metrics.Instrument("get_named_kpis", h.handleGetNamedKpis))

	mux.HandleFunc("GET /v1/cache/stats", metrics.Instrument("cache_stats", h.handleCacheStats))
	mux.HandleFunc("GET /v1/cache/metrics/{domain}", metrics.Instrument("cache_metrics", h.handleCacheMetrics))
	mux.HandleFunc("DELETE /v1/cache/{domain}", metrics.Instrument("cache_invalidate", h.handleInvalidate))

	return Chain(mux,
		requestIDMiddleware,
		loggingMiddleware(logger),
		recoveryMiddleware(logger),
	)
}
