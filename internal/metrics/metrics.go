package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// BatchRuns counts generation runs by mode and final status (ok, partial, failed, nothing to batch, busy, error)
	BatchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "batch_runs_total", Help: "Batch generation runs by mode and status."},
		[]string{"mode", "status"},
	)
	// BatchClusters counts per-cluster commit outcomes
	BatchClusters = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "batch_clusters_total", Help: "Clusters committed or failed."},
		[]string{"outcome"},
	)
	// OrdersBatched counts orders assigned to a batch
	OrdersBatched = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "batch_orders_batched_total", Help: "Orders assigned to batches."},
	)
	// OrdersExcluded counts orders skipped for missing coordinates
	OrdersExcluded = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "batch_orders_excluded_total", Help: "Orders left out of planning for missing coordinates."},
	)
	// PlanDuration tracks how long clustering takes
	PlanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "batch_plan_duration_seconds", Help: "Clustering duration in seconds.", Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1}},
	)
	// CommitRetries counts store retries during cluster commits
	CommitRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "batch_commit_retries_total", Help: "Retried cluster commits."},
	)
)

// RegisterDefault registers collectors to Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(BatchRuns)
		Registry.MustRegister(BatchClusters)
		Registry.MustRegister(OrdersBatched)
		Registry.MustRegister(OrdersExcluded)
		Registry.MustRegister(PlanDuration)
		Registry.MustRegister(CommitRetries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
