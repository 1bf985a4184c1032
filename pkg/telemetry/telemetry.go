// Package telemetry wires up the OpenTelemetry meter provider and the
// Prometheus exporter used across the project.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"blackhole/pkg/config"
	"blackhole/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const meterName = "blackhole"

// Telemetry holds telemetry providers and exporters
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	tracerProvider     trace.TracerProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds all application metrics
type Metrics struct {
	// DNS query metrics
	DNSQueriesTotal  metric.Int64Counter
	DNSQueryDuration metric.Float64Histogram
	AnswerOutcomes   metric.Int64Counter

	// Temporary answers
	TempAnswersRegistered metric.Int64Counter
	TempAnswersFailed     metric.Int64Counter

	// Rules
	RuleReloads metric.Int64Counter
	RuleClients metric.Int64UpDownCounter

	ActiveClients metric.Int64UpDownCounter

	// Storage metrics
	StorageQueriesDropped metric.Int64Counter
}

// New creates a new telemetry instance
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:            cfg,
			meterProvider:  noop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	t := &Telemetry{
		cfg:            cfg,
		logger:         logger,
		tracerProvider: tracenoop.NewTracerProvider(),
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
	)

	return t, nil
}

func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	t.prometheusExporter = exporter

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	t.startPrometheusServer()
	t.logger.Info("Prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

func (t *Telemetry) startPrometheusServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()
}

// InitMetrics initializes and returns all application metrics
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	return NewMetrics(t.meterProvider.Meter(meterName))
}

// NewMetrics creates the metric instruments on meter. Tests use it with a
// noop or manual-reader meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.DNSQueriesTotal, err = meter.Int64Counter(
		"dns.queries.total",
		metric.WithDescription("Total number of DNS queries received"),
	); err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}

	if m.DNSQueryDuration, err = meter.Float64Histogram(
		"dns.query.duration",
		metric.WithDescription("DNS query processing duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	if m.AnswerOutcomes, err = meter.Int64Counter(
		"answers.outcome",
		metric.WithDescription("Answer decisions by outcome and record kind"),
	); err != nil {
		return nil, fmt.Errorf("failed to create answer outcome counter: %w", err)
	}

	if m.TempAnswersRegistered, err = meter.Int64Counter(
		"temp_answers.registered",
		metric.WithDescription("Follow-up answers registered for later queries"),
	); err != nil {
		return nil, fmt.Errorf("failed to create temp answers counter: %w", err)
	}

	if m.TempAnswersFailed, err = meter.Int64Counter(
		"temp_answers.failed",
		metric.WithDescription("Follow-up answer registrations that failed"),
	); err != nil {
		return nil, fmt.Errorf("failed to create temp answer failures counter: %w", err)
	}

	if m.RuleReloads, err = meter.Int64Counter(
		"rules.reloads",
		metric.WithDescription("Rule store reloads by result"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rule reloads counter: %w", err)
	}

	if m.RuleClients, err = meter.Int64UpDownCounter(
		"rules.clients",
		metric.WithDescription("Number of clients with a rule set"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rule clients gauge: %w", err)
	}

	if m.ActiveClients, err = meter.Int64UpDownCounter(
		"clients.active",
		metric.WithDescription("Number of DNS queries in flight"),
	); err != nil {
		return nil, fmt.Errorf("failed to create active clients gauge: %w", err)
	}

	if m.StorageQueriesDropped, err = meter.Int64Counter(
		"storage.queries.dropped",
		metric.WithDescription("Number of queries dropped due to full buffer"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage queries dropped counter: %w", err)
	}

	return &m, nil
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// Tracer returns the tracer used around query handling. Spans are only
// exported when a tracer provider other than noop is installed.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracerProvider.Tracer(meterName)
}

// AddDroppedQuery implements storage.MetricsRecorder so storage does not
// need to import this package.
func (m *Metrics) AddDroppedQuery(ctx context.Context, count int64) {
	if m != nil && m.StorageQueriesDropped != nil {
		m.StorageQueriesDropped.Add(ctx, count)
	}
}

// Shutdown gracefully shuts down telemetry
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}

	t.logger.Info("Telemetry shut down")
	return nil
}
