package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Processor metrics
	ProcessorCallsTotal   *prometheus.CounterVec
	ProcessorCallDuration *prometheus.HistogramVec

	// Mirror metrics
	MirrorOperationsTotal   *prometheus.CounterVec
	MirrorOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	// Business metrics
	WebhookEventsTotal      *prometheus.CounterVec
	ReconcileRunsTotal      *prometheus.CounterVec
	ReconciledSubscriptions prometheus.Counter
	AuditFailuresTotal      prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schoolbilling_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schoolbilling_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		ProcessorCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_processor_calls_total",
				Help: "Total number of billing processor API calls",
			},
			[]string{"operation", "status"},
		),
		ProcessorCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schoolbilling_processor_call_duration_seconds",
				Help:    "Billing processor API call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),

		MirrorOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_mirror_operations_total",
				Help: "Total number of mirror store operations",
			},
			[]string{"operation", "status"},
		),
		MirrorOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schoolbilling_mirror_operation_duration_seconds",
				Help:    "Mirror store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "schoolbilling_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "schoolbilling_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "schoolbilling_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_webhook_events_total",
				Help: "Total number of processor webhook events received",
			},
			[]string{"type", "status"},
		),
		ReconcileRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schoolbilling_reconcile_runs_total",
				Help: "Total number of mirror reconcile runs",
			},
			[]string{"status"},
		),
		ReconciledSubscriptions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "schoolbilling_reconciled_subscriptions_total",
				Help: "Total number of subscriptions refreshed by the reconciler",
			},
		),
		AuditFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "schoolbilling_audit_failures_total",
				Help: "Total number of audit events that could not be recorded",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.ProcessorCallsTotal,
		m.ProcessorCallDuration,
		m.MirrorOperationsTotal,
		m.MirrorOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.WebhookEventsTotal,
		m.ReconcileRunsTotal,
		m.ReconciledSubscriptions,
		m.AuditFailuresTotal,
	)

	return m
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveProcessorCall records one processor API call. Safe on a nil receiver.
func (m *Metrics) ObserveProcessorCall(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ProcessorCallsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.ProcessorCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveMirrorOperation records one mirror store operation. Safe on a nil receiver.
func (m *Metrics) ObserveMirrorOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.MirrorOperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.MirrorOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveCache records a cache lookup. Safe on a nil receiver.
func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// ObserveWebhook records a processed webhook event. Safe on a nil receiver.
func (m *Metrics) ObserveWebhook(eventType string, err error) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, statusLabel(err)).Inc()
}

// ObserveReconcile records a reconcile run. Safe on a nil receiver.
func (m *Metrics) ObserveReconcile(synced int, err error) {
	if m == nil {
		return
	}
	m.ReconcileRunsTotal.WithLabelValues(statusLabel(err)).Inc()
	m.ReconciledSubscriptions.Add(float64(synced))
}

// ObserveAuditFailure counts an audit event that was dropped. Safe on a nil receiver.
func (m *Metrics) ObserveAuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailuresTotal.Inc()
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel uses the mux route template so path ids do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
