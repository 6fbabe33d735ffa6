// Package observability wires OpenTelemetry tracing and metrics around the
// prediction pipeline.
//
// Init configures both providers from one Config and returns a shutdown
// hook:
//
//	shutdown, err := observability.Init(ctx, cfg, "streamsight", version, env)
//	defer shutdown(ctx)
//
// Pipeline stages open spans named by the Span* constants; the Metrics
// instruments count model runs and per-code failures and time each stage:
//
//	metrics, err := observability.NewMetrics(observability.Meter("streamsight"))
//	metrics.RecordModelRun(ctx, "queueing", "ok", duration)
//	metrics.RecordStage(ctx, observability.SpanPropagation, duration)
//
// Health checks:
//
//	health := observability.NewServiceHealth("streamsight", version)
//	health.AddComponent(checker.CheckHealth(ctx))
package observability
