package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	replayLengthBuckets    = []float64{1, 2, 5, 10, 25, 50, 100, 250}
)

// Metrics holds all Prometheus metric instruments for the engine.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Execution metrics
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	RejectionsTotal    *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	IdempotentReplays  prometheus.Counter

	// Reconstruction metrics
	ReconstructionDuration  prometheus.Histogram
	ReconstructionTxReplay  prometheus.Histogram
	DecryptionFailuresTotal prometheus.Counter

	// Backend metrics
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec

	// Cache metrics
	BlueprintCacheHitsTotal   prometheus.Counter
	BlueprintCacheMissesTotal prometheus.Counter

	// System metrics
	BlueprintsPublishedTotal *prometheus.CounterVec
	ActiveInstances          prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerflow_executions_total",
			Help: "Total number of action executions.",
		}, []string{"blueprint_id", "status"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerflow_execution_duration_seconds",
			Help:    "Action execution pipeline duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"blueprint_id"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerflow_rejections_total",
			Help: "Total number of action rejections.",
		}, []string{"blueprint_id", "terminal"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerflow_validation_failures_total",
			Help: "Total number of submitted-data validation failures.",
		}, []string{"blueprint_id"}),
		IdempotentReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerflow_idempotent_replays_total",
			Help: "Total number of executions answered from the result store.",
		}),

		ReconstructionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledgerflow_reconstruction_duration_seconds",
			Help:    "State reconstruction duration in seconds.",
			Buckets: backendDurationBuckets,
		}),
		ReconstructionTxReplay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledgerflow_reconstruction_transactions_replayed",
			Help:    "Number of ledger transactions replayed per reconstruction.",
			Buckets: replayLengthBuckets,
		}),
		DecryptionFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerflow_decryption_failures_total",
			Help: "Total number of historical payloads skipped due to decryption failure.",
		}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerflow_backend_requests_total",
			Help: "Total number of register, wallet, and directory requests.",
		}, []string{"service", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerflow_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"service"}),

		BlueprintCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerflow_blueprint_cache_hits_total",
			Help: "Total blueprint cache hits.",
		}),
		BlueprintCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerflow_blueprint_cache_misses_total",
			Help: "Total blueprint cache misses.",
		}),

		BlueprintsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerflow_blueprints_published_total",
			Help: "Total blueprints published to the register.",
		}, []string{"status"}),
		ActiveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerflow_active_instances",
			Help: "Number of instances in the active state.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.RejectionsTotal,
		m.ValidationFailures,
		m.IdempotentReplays,
		m.ReconstructionDuration,
		m.ReconstructionTxReplay,
		m.DecryptionFailuresTotal,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BlueprintCacheHitsTotal,
		m.BlueprintCacheMissesTotal,
		m.BlueprintsPublishedTotal,
		m.ActiveInstances,
	)

	return m
}

// --- Recording helpers ---

// RecordExecution records an action execution outcome.
func (m *Metrics) RecordExecution(blueprintID, status string, duration time.Duration) {
	m.ExecutionsTotal.WithLabelValues(blueprintID, status).Inc()
	m.ExecutionDuration.WithLabelValues(blueprintID).Observe(duration.Seconds())
}

// RecordRejection records an action rejection.
func (m *Metrics) RecordRejection(blueprintID string, terminal bool) {
	m.RejectionsTotal.WithLabelValues(blueprintID, strconv.FormatBool(terminal)).Inc()
}

// RecordValidationFailure records a validation failure.
func (m *Metrics) RecordValidationFailure(blueprintID string) {
	m.ValidationFailures.WithLabelValues(blueprintID).Inc()
}

// RecordReconstruction records one state reconstruction.
func (m *Metrics) RecordReconstruction(duration time.Duration, txReplayed int, decryptFailures int) {
	m.ReconstructionDuration.Observe(duration.Seconds())
	m.ReconstructionTxReplay.Observe(float64(txReplayed))
	if decryptFailures > 0 {
		m.DecryptionFailuresTotal.Add(float64(decryptFailures))
	}
}

// RecordBackendRequest records a request to a consumed service.
func (m *Metrics) RecordBackendRequest(service string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(service, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordBlueprintCache records a blueprint cache lookup.
func (m *Metrics) RecordBlueprintCache(hit bool) {
	if hit {
		m.BlueprintCacheHitsTotal.Inc()
	} else {
		m.BlueprintCacheMissesTotal.Inc()
	}
}

// RecordBlueprintPublish records a blueprint publish attempt.
func (m *Metrics) RecordBlueprintPublish(status string) {
	m.BlueprintsPublishedTotal.WithLabelValues(status).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics
// using chi's route pattern (not the actual URL path) to avoid label
// cardinality explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
