// Package observability provides structured logging and Prometheus metrics.
package observability

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Telemetry bundles the logger and metrics handed to every component.
type Telemetry struct {
	logger  *zap.Logger
	metrics *Metrics
	config  Config
}

// Config configures telemetry.
type Config struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json, console

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// Metrics holds the engine's Prometheus metrics.
type Metrics struct {
	// Collection metrics
	TasksTotal       *prometheus.CounterVec
	TaskRetries      *prometheus.CounterVec
	RecordsCollected *prometheus.CounterVec
	ParseErrors      *prometheus.CounterVec
	CollectDuration  *prometheus.HistogramVec

	// Pipeline metrics
	FindingsExtracted     *prometheus.CounterVec
	FindingsInvalid       *prometheus.CounterVec
	EntitiesCorrelated    *prometheus.CounterVec
	InvestigationsTotal   *prometheus.CounterVec
	InvestigationDuration prometheus.Histogram
	InvestigationsActive  prometheus.Gauge

	// Rate limiting and proxies
	RateLimitWaits *prometheus.CounterVec
	ProxiesHealthy prometheus.Gauge
	ProxyFailures  *prometheus.CounterVec

	// System metrics
	GoroutineCount prometheus.Gauge
	MemoryUsage    prometheus.Gauge

	// API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a Telemetry instance.
func New(cfg Config) (*Telemetry, error) {
	t := &Telemetry{config: cfg}

	logger, err := t.initLogger()
	if err != nil {
		return nil, err
	}
	t.logger = logger

	if cfg.MetricsEnabled {
		t.metrics = NewMetrics(prometheus.DefaultRegisterer)
	}
	return t, nil
}

func (t *Telemetry) initLogger() (*zap.Logger, error) {
	var config zap.Config

	if t.config.LogFormat == "console" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	switch t.config.LogLevel {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config.InitialFields = map[string]interface{}{
		"service":     t.config.ServiceName,
		"version":     t.config.ServiceVersion,
		"environment": t.config.Environment,
	}

	return config.Build()
}

// NewMetrics registers the engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	namespace := "intelforge"
	factory := promauto.With(reg)

	return &Metrics{
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collector_tasks_total",
				Help:      "Collector tasks by source and final status",
			},
			[]string{"source", "status"},
		),
		TaskRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collector_task_retries_total",
				Help:      "Collector task retry attempts",
			},
			[]string{"source"},
		),
		RecordsCollected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_collected_total",
				Help:      "Raw records drained from collector streams",
			},
			[]string{"source"},
		),
		ParseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_parse_errors_total",
				Help:      "Malformed records skipped during collection",
			},
			[]string{"source"},
		),
		CollectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "collect_duration_seconds",
				Help:      "Collector task duration by source",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"source"},
		),
		FindingsExtracted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "findings_extracted_total",
				Help:      "Findings normalized from raw records",
			},
			[]string{"source", "type"},
		),
		FindingsInvalid: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "findings_invalid_total",
				Help:      "Findings marked invalid by validation",
			},
			[]string{"type"},
		),
		EntitiesCorrelated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_correlated_total",
				Help:      "Entities produced by correlation",
			},
			[]string{"type"},
		),
		InvestigationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "investigations_total",
				Help:      "Investigations by terminal state",
			},
			[]string{"state"},
		),
		InvestigationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "investigation_duration_seconds",
				Help:      "End-to-end investigation duration",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		InvestigationsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "investigations_active",
				Help:      "Investigations currently in flight",
			},
		),
		RateLimitWaits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_waits_total",
				Help:      "Token-bucket acquisitions that had to wait",
			},
			[]string{"source"},
		),
		ProxiesHealthy: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "proxies_healthy",
				Help:      "Proxies currently in rotation",
			},
		),
		ProxyFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_failures_total",
				Help:      "Proxy failures by proxy URL",
			},
			[]string{"proxy"},
		),
		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutine_count",
				Help:      "Current goroutine count",
			},
		),
		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "path"},
		),
	}
}

// Logger returns the logger.
func (t *Telemetry) Logger() *zap.Logger {
	return t.logger
}

// Metrics returns the metrics, nil when disabled.
func (t *Telemetry) Metrics() *Metrics {
	return t.metrics
}

// MetricsHandler returns the Prometheus metrics handler.
func (t *Telemetry) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// StartSystemMetricsCollector samples runtime stats until ctx is cancelled.
func (t *Telemetry) StartSystemMetricsCollector(ctx context.Context) {
	if t.metrics == nil {
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				t.metrics.GoroutineCount.Set(float64(runtime.NumGoroutine()))
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				t.metrics.MemoryUsage.Set(float64(m.Alloc))
			}
		}
	}()
}

// Shutdown flushes buffered log entries.
func (t *Telemetry) Shutdown(context.Context) error {
	return t.logger.Sync()
}
