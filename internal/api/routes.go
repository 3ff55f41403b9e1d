package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"orderbatch/internal/metrics"
)

// Routes builds the HTTP handler with logging, metrics, CORS and rate limiting applied.
func (s *Server) Routes() http.Handler {
	metrics.RegisterDefault()
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, observe(s.log, pattern, h))
	}
	limited := func(h http.HandlerFunc) http.HandlerFunc {
		return throttle(s.cfg.HTTP.RateRPS, s.cfg.HTTP.RateBurst, h).ServeHTTP
	}

	// Orders
	handle("/v1/orders", s.OrdersHandler)
	handle("/upload", limited(s.UploadHandler))

	// Batching
	handle("/generate-batches", limited(s.GenerateBatchesHandler))
	handle("/batches/generate", limited(s.BatchesGenerateHandler))
	handle("/batches", s.BatchesHandler)
	handle("/batches/today", s.BatchesTodayHandler)
	handle("/v1/batches", s.BatchesIndexHandler)
	handle("/v1/batches/stream", s.BatchStreamHandler)

	// Health
	handle("/healthz", s.HealthHandler)
	handle("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// Docs and debug
	handle("/openapi.yaml", s.OpenAPIHandler)
	handle("/openapi.json", s.OpenAPIJSONHandler)
	handle("/docs", s.DocsHandler)
	handle("/debug/info", s.DebugJSON)

	return cors(s.cfg.HTTP.Origins(), mux)
}
