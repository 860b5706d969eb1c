package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the financial tracker
type PrometheusMetrics struct {
	Registry *prometheus.Registry

	// Startup metrics
	StartupStepDuration *prometheus.HistogramVec
	StartupStepsTotal   *prometheus.CounterVec
	ReadinessProbes     *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec
	DatabaseConnections       prometheus.Gauge

	// Cache metrics
	CacheOperationsTotal *prometheus.CounterVec

	// Ledger metrics
	TransactionsTotal   *prometheus.CounterVec
	LedgerRejections    *prometheus.CounterVec
	SpendingLimitAlerts *prometheus.CounterVec

	// Currency metrics
	CurrencyRefreshTotal *prometheus.CounterVec
	CurrencyRatesTracked prometheus.Gauge

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec
	NotificationDuration      *prometheus.HistogramVec
	MailQueueDepth            prometheus.Gauge

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics on a fresh registry
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &PrometheusMetrics{
		Registry: reg,

		StartupStepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_startup_step_duration_seconds",
				Help:    "Duration of each startup step",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"step"},
		),

		StartupStepsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_startup_steps_total",
				Help: "Total number of startup steps by outcome",
			},
			[]string{"step", "status"},
		),

		ReadinessProbes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_readiness_probes_total",
				Help: "Total number of readiness probes against dependencies",
			},
			[]string{"dependency", "status"},
		),

		DatabaseOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		DatabaseConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_database_connections",
				Help: "Number of open database connections",
			},
		),

		CacheOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_cache_operations_total",
				Help: "Total number of cache operations",
			},
			[]string{"operation", "result"},
		),

		TransactionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_transactions_total",
				Help: "Total number of ledger transactions by operation and type",
			},
			[]string{"operation", "type"},
		),

		LedgerRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_ledger_rejections_total",
				Help: "Total number of rejected ledger operations",
			},
			[]string{"reason"},
		),

		SpendingLimitAlerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_spending_limit_alerts_total",
				Help: "Total number of spending limit alerts queued",
			},
			[]string{"kind"},
		),

		CurrencyRefreshTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_currency_refresh_total",
				Help: "Total number of exchange rate refreshes",
			},
			[]string{"source", "status"},
		),

		CurrencyRatesTracked: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_currency_rates_tracked",
				Help: "Number of currencies with a known exchange rate",
			},
		),

		NotificationsSentTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_notifications_sent_total",
				Help: "Total number of notifications sent",
			},
			[]string{"channel", "type"},
		),

		NotificationFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_notification_failures_total",
				Help: "Total number of failed notifications",
			},
			[]string{"channel", "type", "error"},
		),

		NotificationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_notification_duration_seconds",
				Help:    "Duration of notification delivery",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel", "type"},
		),

		MailQueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_mail_queue_depth",
				Help: "Number of mails waiting in the outbox queue",
			},
		),

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tracker_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordStartupStep records the outcome and duration of a startup step
func (m *PrometheusMetrics) RecordStartupStep(step, status string, duration time.Duration) {
	m.StartupStepsTotal.WithLabelValues(step, status).Inc()
	m.StartupStepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordReadinessProbe records a single readiness probe
func (m *PrometheusMetrics) RecordReadinessProbe(dependency string, ok bool) {
	m.ReadinessProbes.WithLabelValues(dependency, statusLabel(ok)).Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// UpdateDatabaseConnections updates the database connections metric
func (m *PrometheusMetrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// RecordCacheOperation records a cache hit, miss or error
func (m *PrometheusMetrics) RecordCacheOperation(operation, result string) {
	m.CacheOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordTransaction records a ledger write
func (m *PrometheusMetrics) RecordTransaction(operation, txType string) {
	m.TransactionsTotal.WithLabelValues(operation, txType).Inc()
}

// RecordLedgerRejection records a rejected ledger write
func (m *PrometheusMetrics) RecordLedgerRejection(reason string) {
	m.LedgerRejections.WithLabelValues(reason).Inc()
}

// RecordSpendingLimitAlert records a spending limit alert
func (m *PrometheusMetrics) RecordSpendingLimitAlert(kind string) {
	m.SpendingLimitAlerts.WithLabelValues(kind).Inc()
}

// RecordCurrencyRefresh records an exchange rate refresh
func (m *PrometheusMetrics) RecordCurrencyRefresh(source string, ok bool, rates int) {
	m.CurrencyRefreshTotal.WithLabelValues(source, statusLabel(ok)).Inc()
	if ok {
		m.CurrencyRatesTracked.Set(float64(rates))
	}
}

// RecordNotificationSent records a sent notification
func (m *PrometheusMetrics) RecordNotificationSent(channel, notificationType string, duration time.Duration) {
	m.NotificationsSentTotal.WithLabelValues(channel, notificationType).Inc()
	m.NotificationDuration.WithLabelValues(channel, notificationType).Observe(duration.Seconds())
}

// RecordNotificationFailure records a failed notification
func (m *PrometheusMetrics) RecordNotificationFailure(channel, notificationType, errorType string) {
	m.NotificationFailuresTotal.WithLabelValues(channel, notificationType, errorType).Inc()
}

// UpdateMailQueueDepth updates the outbox depth gauge
func (m *PrometheusMetrics) UpdateMailQueueDepth(depth int64) {
	m.MailQueueDepth.Set(float64(depth))
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
