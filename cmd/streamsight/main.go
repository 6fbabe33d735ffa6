// Package main wires the topology performance predictor together: plan
// documents from the coordination service, metrics from the configured
// telemetry backend, the prediction pipelines, and the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kbukum/streamsight/api"
	"github.com/kbukum/streamsight/arrival"
	"github.com/kbukum/streamsight/config"
	"github.com/kbukum/streamsight/graph"
	"github.com/kbukum/streamsight/ioratio"
	"github.com/kbukum/streamsight/lock"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/model"
	"github.com/kbukum/streamsight/observability"
	"github.com/kbukum/streamsight/paths"
	"github.com/kbukum/streamsight/queueing"
	"github.com/kbukum/streamsight/recommend"
	"github.com/kbukum/streamsight/routing"
	"github.com/kbukum/streamsight/server"
	"github.com/kbukum/streamsight/telemetry"
	"github.com/kbukum/streamsight/tracker"
	"github.com/kbukum/streamsight/traffic"
	"github.com/kbukum/streamsight/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "streamsight: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config.Config
	if err := config.LoadConfig("streamsight", &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Init(cfg.Service.Logging)
	log := logger.New(&cfg.Service.Logging, cfg.Service.Name)
	log.Info("starting", logger.Fields(
		"version", version.GetShortVersion(),
		"environment", cfg.Service.Environment,
	))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownObs, err := observability.Init(ctx, cfg.Observability,
		cfg.Service.Name, version.GetShortVersion(), cfg.Service.Environment)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() { _ = shutdownObs(context.Background()) }()

	var obsMetrics *observability.Metrics
	if cfg.Observability.Enabled {
		obsMetrics, err = observability.NewMetrics(observability.Meter(cfg.Service.Name))
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
	}

	locker, err := lock.New(cfg.Lock, log)
	if err != nil {
		return fmt.Errorf("init lock: %w", err)
	}
	coordinator, err := tracker.New(cfg.Tracker, log)
	if err != nil {
		return fmt.Errorf("init tracker client: %w", err)
	}
	metrics, err := telemetry.New(cfg.Telemetry, coordinator, log)
	if err != nil {
		return fmt.Errorf("init telemetry client: %w", err)
	}

	builder := graph.NewBuilder(graph.NewStore(), coordinator, locker, log)
	coefficients, err := ioratio.NewEstimator(cfg.IORatio, metrics, log)
	if err != nil {
		return err
	}
	queue, err := queueing.New(cfg.Queueing)
	if err != nil {
		return err
	}
	analyzer, err := paths.NewAnalyzer(cfg.Paths, log)
	if err != nil {
		return err
	}
	recommender, err := recommend.New(cfg.Recommend, log)
	if err != nil {
		return err
	}
	summarizer, err := traffic.NewSummarizer(cfg.Traffic, metrics, log)
	if err != nil {
		return err
	}

	// A superseded snapshot invalidates the memoized routes of its
	// topology and counts as a rebuild.
	builder.OnSupersede(func(topologyID string) {
		analyzer.InvalidateTopology(topologyID)
		if obsMetrics != nil {
			obsMetrics.RecordSnapshotBuild(context.Background(), topologyID)
		}
	})

	runner, err := model.NewRunner(cfg.Model, model.Deps{
		Builder:       builder,
		Telemetry:     metrics,
		Plans:         coordinator,
		Coefficients:  coefficients,
		Probabilities: routing.NewEstimator(metrics, log),
		Engine:        arrival.NewEngine(log),
		Queue:         queue,
		Analyzer:      analyzer,
		Recommender:   recommender,
		Summarizer:    summarizer,
		Metrics:       obsMetrics,
	}, log)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server, log)
	srv.ApplyMiddleware()
	srv.RegisterDefaultEndpoints(cfg.Service.Name,
		observability.Probe{Name: "tracker", Critical: true, Ping: coordinator.Ping},
		observability.Probe{Name: "lock", Ping: func(ctx context.Context) error {
			release, err := locker.Acquire(ctx, "healthcheck")
			if err != nil {
				return err
			}
			release()
			return nil
		}},
	)

	handler, err := api.NewHandler(cfg.API, runner, coordinator, log)
	if err != nil {
		return err
	}
	handler.Register(srv.GinEngine())

	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("ready", logger.Fields(
		"addr", srv.Addr(),
		"telemetry_backend", metrics.Backend(),
		"estimator", queue.Name(),
	))

	<-ctx.Done()
	return srv.Stop(context.Background())
}
