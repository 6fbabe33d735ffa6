package observability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// ---- Config ----

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Endpoint != "localhost:4318" {
		t.Errorf("expected default endpoint 'localhost:4318', got %s", cfg.Endpoint)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected default sample rate 1.0, got %f", cfg.SampleRate)
	}
	if cfg.IntervalSeconds != 15 {
		t.Errorf("expected default interval 15s, got %d", cfg.IntervalSeconds)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled skips checks", Config{Enabled: false}, false},
		{"enabled valid", Config{Enabled: true, Endpoint: "otel:4318", SampleRate: 0.5, IntervalSeconds: 30}, false},
		{"missing endpoint", Config{Enabled: true, SampleRate: 1, IntervalSeconds: 15}, true},
		{"sample rate above one", Config{Enabled: true, Endpoint: "otel:4318", SampleRate: 1.5, IntervalSeconds: 15}, true},
		{"negative interval", Config{Enabled: true, Endpoint: "otel:4318", SampleRate: 1, IntervalSeconds: -1}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false}, "streamsight", "dev", "development")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned error: %v", err)
	}
}

// ---- Metrics ----

func TestNewMetrics(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	metrics, err := NewMetrics(meter)
	if err != nil {
		t.Fatalf("unexpected error creating metrics: %v", err)
	}
	if metrics == nil {
		t.Fatal("expected non-nil metrics")
	}

	ctx := context.Background()
	metrics.RecordRequestStart(ctx)
	metrics.RecordModelRun(ctx, "queueing", "ok", 100*time.Millisecond)
	metrics.RecordStage(ctx, SpanPropagation, 20*time.Millisecond)
	metrics.RecordFailure(ctx, "METRIC_UNAVAILABLE", "telemetry")
	metrics.RecordSnapshotBuild(ctx, "word-count")
	metrics.RecordRequestEnd(ctx)
}

// ---- Tracing ----

func TestTracer(t *testing.T) {
	tracer := Tracer("test-tracer")
	if tracer == nil {
		t.Fatal("expected non-nil tracer")
	}
}

func TestMeter(t *testing.T) {
	meter := Meter("test-meter")
	if meter == nil {
		t.Fatal("expected non-nil meter")
	}
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()
	ctx, span := StartSpan(ctx, "test-operation")
	defer span.End()

	if span == nil {
		t.Fatal("expected non-nil span")
	}
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()
	span := SpanFromContext(ctx)
	if span == nil {
		t.Fatal("expected non-nil span (noop)")
	}

	ctx, s := StartSpan(ctx, "test")
	defer s.End()
	got := SpanFromContext(ctx)
	if got == nil {
		t.Fatal("expected non-nil span from context")
	}
}

func TestSetSpanAttribute(t *testing.T) {
	// Use SDK tracer so span.IsRecording() returns true
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())
	otel.SetTracerProvider(tp)

	ctx, span := StartSpan(context.Background(), "test-attrs")
	defer span.End()

	// All supported types - should not panic
	SetSpanAttribute(ctx, AttrTopology, "word-count")
	SetSpanAttribute(ctx, "task-count", 42)
	SetSpanAttribute(ctx, "int64-key", int64(100))
	SetSpanAttribute(ctx, "rate", 3.14)
	SetSpanAttribute(ctx, "backpressure", true)
	SetSpanAttribute(ctx, "models", []string{"queueing"})

	// Unsupported type - ignored, no panic
	SetSpanAttribute(ctx, "unsupported-key", struct{}{})
}

func TestSetSpanAttributeNoSpan(t *testing.T) {
	SetSpanAttribute(context.Background(), "key", "value")
}

func TestSetSpanError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())
	otel.SetTracerProvider(tp)

	ctx, span := StartSpan(context.Background(), "test-error")
	defer span.End()

	SetSpanError(ctx, fmt.Errorf("test error"))
}

func TestSetSpanErrorNoSpan(t *testing.T) {
	SetSpanError(context.Background(), fmt.Errorf("no span error"))
}

// ---- Health ----

func TestNewServiceHealth(t *testing.T) {
	sh := NewServiceHealth("streamsight", "1.0.0")

	if sh.Service != "streamsight" {
		t.Errorf("expected Service 'streamsight', got %s", sh.Service)
	}
	if sh.Version != "1.0.0" {
		t.Errorf("expected Version '1.0.0', got %s", sh.Version)
	}
	if sh.Status != HealthStatusUp {
		t.Errorf("expected Status 'up', got %s", sh.Status)
	}
}

func TestServiceHealth_AddComponent(t *testing.T) {
	sh := NewServiceHealth("streamsight", "1.0.0")

	sh.AddComponent(Health{Name: "tracker", Status: HealthStatusUp, Critical: true})
	if sh.Status != HealthStatusUp {
		t.Errorf("expected status 'up' after healthy component, got %s", sh.Status)
	}

	// A failed non-critical collaborator degrades the service.
	sh.AddComponent(Health{Name: "lock", Status: HealthStatusDown, Message: "connection refused"})
	if sh.Status != HealthStatusDegraded {
		t.Errorf("expected status 'degraded', got %s", sh.Status)
	}

	// A failed critical collaborator takes it down.
	sh.AddComponent(Health{Name: "tracker", Status: HealthStatusDown, Critical: true, Message: "timeout"})
	if sh.Status != HealthStatusDown {
		t.Errorf("expected status 'down', got %s", sh.Status)
	}

	if len(sh.Components) != 3 {
		t.Errorf("expected 3 components, got %d", len(sh.Components))
	}
}

func TestServiceHealth_DegradedDoesNotOverrideDown(t *testing.T) {
	sh := NewServiceHealth("streamsight", "1.0.0")
	sh.AddComponent(Health{Name: "a", Status: HealthStatusDown, Critical: true})
	sh.AddComponent(Health{Name: "b", Status: HealthStatusDown})

	if sh.Status != HealthStatusDown {
		t.Errorf("expected 'down' not overridden by a degrading failure, got %s", sh.Status)
	}
}

func TestProbeCheckHealth(t *testing.T) {
	up := Probe{Name: "tracker", Critical: true, Ping: func(ctx context.Context) error { return nil }}
	h := up.CheckHealth(context.Background())
	if h.Name != "tracker" || !h.Critical || h.Status != HealthStatusUp {
		t.Errorf("unexpected healthy probe result: %+v", h)
	}
	if h.Message != "" {
		t.Errorf("healthy probe must not carry a message: %+v", h)
	}

	down := Probe{Name: "lock", Ping: func(ctx context.Context) error { return fmt.Errorf("connection refused") }}
	h = down.CheckHealth(context.Background())
	if h.Status != HealthStatusDown || h.Message != "connection refused" {
		t.Errorf("unexpected failed probe result: %+v", h)
	}
	if h.Critical {
		t.Errorf("probe must not mark itself critical: %+v", h)
	}
}

func TestProbeLatency(t *testing.T) {
	slow := Probe{Name: "tracker", Ping: func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}}
	h := slow.CheckHealth(context.Background())
	if h.LatencyMS < 5 {
		t.Errorf("expected latency of at least 5ms, got %d", h.LatencyMS)
	}
}
