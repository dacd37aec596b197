// Package telemetry provides OpenTelemetry instrumentation for decommission runs.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/awsdecomm/internal/config"
)

const instrumentationName = "awsdecomm"

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *prometheus.Registry
	extraReaders   []sdkmetric.Reader

	// Metrics
	runs           metric.Int64Counter
	runDuration    metric.Float64Histogram
	retries        metric.Int64Counter
	purges         metric.Int64Counter
	lookupDuration metric.Float64Histogram
}

// Option configures a Provider.
type Option func(*Provider)

// WithReader adds a metric reader, used by tests to collect metrics.
func WithReader(r sdkmetric.Reader) Option {
	return func(p *Provider) { p.extraReaders = append(p.extraReaders, r) }
}

// NewProvider creates a new telemetry provider.
func NewProvider(ctx context.Context, cfg config.OTELConfig, opts ...Option) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{registry: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		_ = p.tracerProvider.Shutdown(ctx)
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate)
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(instrumentationName)

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	promExporter, err := otelprom.New(otelprom.WithRegisterer(p.registry))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	}
	for _, r := range p.extraReaders {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(instrumentationName)

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.runs, err = p.meter.Int64Counter(
		"awsdecomm.runs",
		metric.WithDescription("Number of handler runs by notification outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return fmt.Errorf("create runs: %w", err)
	}

	p.runDuration, err = p.meter.Float64Histogram(
		"awsdecomm.run.duration",
		metric.WithDescription("Duration of handler runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create run.duration: %w", err)
	}

	p.retries, err = p.meter.Int64Counter(
		"awsdecomm.retries",
		metric.WithDescription("Number of retried network calls"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return fmt.Errorf("create retries: %w", err)
	}

	p.purges, err = p.meter.Int64Counter(
		"awsdecomm.purges",
		metric.WithDescription("Number of registry purges by result"),
		metric.WithUnit("{purge}"),
	)
	if err != nil {
		return fmt.Errorf("create purges: %w", err)
	}

	p.lookupDuration, err = p.meter.Float64Histogram(
		"awsdecomm.lookup.duration",
		metric.WithDescription("Duration of cloud account lookups"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create lookup.duration: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// RecordRun records a finished run.
func (p *Provider) RecordRun(ctx context.Context, outcome, verdict string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("verdict", verdict),
	)
	p.runs.Add(ctx, 1, attrs)
	p.runDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordRetry records one retried call.
func (p *Provider) RecordRetry(ctx context.Context, operation string) {
	p.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordPurge records the result of purging one registry.
func (p *Provider) RecordPurge(ctx context.Context, registry string, err error) {
	p.purges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("registry", registry),
		attribute.String("result", result(err)),
	))
}

// RecordLookup records the duration of one account lookup.
func (p *Provider) RecordLookup(ctx context.Context, account string, d time.Duration, err error) {
	p.lookupDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("account", account),
		attribute.String("result", result(err)),
	))
}

// Push sends the recorded metrics to a Pushgateway, replacing the previous
// push of this job.
func (p *Provider) Push(ctx context.Context, url string) error {
	if err := push.New(url, instrumentationName).Gatherer(p.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
