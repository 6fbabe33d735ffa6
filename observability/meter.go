package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/streamsight/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (development, staging, production).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the pipeline's metric instruments.
type Metrics struct {
	modelRunTotal    metric.Int64Counter
	modelRunDuration metric.Float64Histogram
	stageDuration    metric.Float64Histogram
	failureTotal     metric.Int64Counter
	snapshotBuilds   metric.Int64Counter
	requestActive    metric.Int64UpDownCounter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	modelRunTotal, err := meter.Int64Counter("model.runs",
		metric.WithDescription("Model runs by name and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating model.runs counter: %w", err)
	}

	modelRunDuration, err := meter.Float64Histogram("model.duration",
		metric.WithDescription("Duration of model runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating model.duration histogram: %w", err)
	}

	stageDuration, err := meter.Float64Histogram("pipeline.stage.duration",
		metric.WithDescription("Duration of pipeline stages in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline.stage.duration histogram: %w", err)
	}

	failureTotal, err := meter.Int64Counter("failure.total",
		metric.WithDescription("Per-item failures by error code and source"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failure.total counter: %w", err)
	}

	snapshotBuilds, err := meter.Int64Counter("graph.snapshot.builds",
		metric.WithDescription("Graph snapshots built"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating graph.snapshot.builds counter: %w", err)
	}

	requestActive, err := meter.Int64UpDownCounter("request.active",
		metric.WithDescription("Number of currently active prediction requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request.active gauge: %w", err)
	}

	return &Metrics{
		modelRunTotal:    modelRunTotal,
		modelRunDuration: modelRunDuration,
		stageDuration:    stageDuration,
		failureTotal:     failureTotal,
		snapshotBuilds:   snapshotBuilds,
		requestActive:    requestActive,
	}, nil
}

// RecordRequestStart increments the active request count.
func (m *Metrics) RecordRequestStart(ctx context.Context) {
	m.requestActive.Add(ctx, 1)
}

// RecordRequestEnd decrements the active request count.
func (m *Metrics) RecordRequestEnd(ctx context.Context) {
	m.requestActive.Add(ctx, -1)
}

// RecordModelRun records one completed model run.
func (m *Metrics) RecordModelRun(ctx context.Context, model, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.modelRunTotal.Add(ctx, 1, attrs)
	m.modelRunDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("model", model),
	))
}

// RecordStage records the duration of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, duration time.Duration) {
	m.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
	))
}

// RecordFailure records a per-item failure by error code and source.
func (m *Metrics) RecordFailure(ctx context.Context, code, source string) {
	m.failureTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", code),
		attribute.String("source", source),
	))
}

// RecordSnapshotBuild records one graph snapshot construction.
func (m *Metrics) RecordSnapshotBuild(ctx context.Context, topology string) {
	m.snapshotBuilds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topology", topology),
	))
}
