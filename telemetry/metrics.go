// Package telemetry exposes OpenTelemetry metrics for dnspause, exported
// over OTLP gRPC and/or a Prometheus endpoint.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/dnspause/dnspause"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	togglesTotal     metric.Int64Counter
	toggleDuration   metric.Float64Histogram
	apiRequestsTotal metric.Int64Counter
	apiDuration      metric.Float64Histogram
	retryAttempts    metric.Int64Counter
	cacheEventsTotal metric.Int64Counter
	notifyTotal      metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dnspause"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	togglesTotal, err := meter.Int64Counter(
		"dnspause_toggles_total",
		metric.WithDescription("Total number of profile toggle operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	toggleDuration, err := meter.Float64Histogram(
		"dnspause_toggle_duration_seconds",
		metric.WithDescription("End-to-end duration of toggle operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return err
	}

	apiRequestsTotal, err := meter.Int64Counter(
		"dnspause_api_requests_total",
		metric.WithDescription("Total number of control-plane API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	apiDuration, err := meter.Float64Histogram(
		"dnspause_api_request_duration_seconds",
		metric.WithDescription("Duration of control-plane API requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return err
	}

	retryAttempts, err := meter.Int64Counter(
		"dnspause_retry_attempts_total",
		metric.WithDescription("Total retry sleeps performed by the retry layer"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	cacheEventsTotal, err := meter.Int64Counter(
		"dnspause_cache_events_total",
		metric.WithDescription("Profile cache hits, misses and invalidations"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	notifyTotal, err := meter.Int64Counter(
		"dnspause_notifications_total",
		metric.WithDescription("Toggle event notifications by outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		togglesTotal:     togglesTotal,
		toggleDuration:   toggleDuration,
		apiRequestsTotal: apiRequestsTotal,
		apiDuration:      apiDuration,
		retryAttempts:    retryAttempts,
		cacheEventsTotal: cacheEventsTotal,
		notifyTotal:      notifyTotal,
		meterProvider:    mp,
		promHandler:      promHandler,
	}

	return nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordToggle records a completed toggle operation.
// action is "paused" or "resumed"; outcome is "success", "error"
// or "unverified".
func RecordToggle(ctx context.Context, action, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	}
	globalMetrics.togglesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.toggleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAPIRequest records one control-plane round trip.
func RecordAPIRequest(ctx context.Context, endpoint, statusClass string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("endpoint", endpoint),
		attribute.String("status_class", statusClass),
	}
	globalMetrics.apiRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.apiDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRetryAttempt records one retry sleep.
func RecordRetryAttempt(ctx context.Context) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.retryAttempts.Add(ctx, 1)
}

// RecordCacheEvent records a cache hit, miss or invalidation.
func RecordCacheEvent(ctx context.Context, op string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cacheEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordNotification records one notifier delivery by outcome.
func RecordNotification(ctx context.Context, outcome string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.notifyTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
