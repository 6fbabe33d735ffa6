package model

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/streamsight/arrival"
	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/graph"
	"github.com/kbukum/streamsight/ioratio"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/observability"
	"github.com/kbukum/streamsight/paths"
	"github.com/kbukum/streamsight/queueing"
	"github.com/kbukum/streamsight/recommend"
	"github.com/kbukum/streamsight/routing"
	"github.com/kbukum/streamsight/telemetry"
	"github.com/kbukum/streamsight/topology"
	"github.com/kbukum/streamsight/traffic"
)

// PackingPlanSource supplies the current packing plan of a topology. The
// tracker client implements it.
type PackingPlanSource interface {
	PackingPlan(ctx context.Context, cluster, environ, topo string) (*topology.PackingPlan, error)
}

// Deps are the pipeline components a Runner orchestrates. Metrics may be
// nil when instrument recording is disabled.
type Deps struct {
	Builder       *graph.Builder
	Telemetry     telemetry.Client
	Plans         PackingPlanSource
	Coefficients  *ioratio.Estimator
	Probabilities *routing.Estimator
	Engine        *arrival.Engine
	Queue         queueing.Estimator
	Analyzer      *paths.Analyzer
	Recommender   *recommend.Recommender
	Summarizer    *traffic.Summarizer
	Metrics       *observability.Metrics
}

// Runner resolves requested models and runs them concurrently against one
// topology snapshot.
type Runner struct {
	cfg  Config
	deps Deps
	log  *logger.Logger
}

// NewRunner creates a runner over validated configuration and dependencies.
func NewRunner(cfg Config, deps Deps, log *logger.Logger) (*Runner, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("model", err.Error()).WithCause(err)
	}
	return &Runner{cfg: cfg, deps: deps, log: log.WithComponent("model")}, nil
}

// TopologyRequest asks for performance predictions of one topology.
// Traffic and Plan only apply to the proposed-plan model: Traffic maps
// source operator to output stream to hypothesized rate in records per
// second, and Plan, when set, replaces the topology's current packing plan.
type TopologyRequest struct {
	Cluster  string
	Environ  string
	Topology string
	Window   telemetry.Window
	Models   []string
	Traffic  map[string]map[string]float64
	Plan     *topology.PackingPlan
}

// RateTable is the propagated arrival and output rates of one model run.
type RateTable struct {
	Arrivals []arrival.Entry       `json:"arrivals"`
	Outputs  []arrival.OutputEntry `json:"outputs"`
	Managers []arrival.ManagerLoad `json:"stream_managers"`
}

// TopologyResult is one topology model's output.
type TopologyResult struct {
	Model          string                    `json:"model"`
	RoutingMode    routing.Mode              `json:"routing_mode"`
	Rates          RateTable                 `json:"rates"`
	Instances      []queueing.Report         `json:"instances"`
	Paths          []paths.Latency           `json:"paths"`
	Measured       []MeasuredLatency         `json:"measured_latencies,omitempty"`
	Diagnostics    []queueing.NaiveQueue     `json:"queue_diagnostics,omitempty"`
	Recommendation *recommend.Recommendation `json:"recommendation,omitempty"`
}

// MeasuredLatency is the mean end-to-end tuple latency the runtime recorded
// for one source instance and stream over the request window. Only
// topologies running at-least-once delivery track it.
type MeasuredLatency struct {
	Task     int     `json:"task"`
	Operator string  `json:"operator"`
	Stream   string  `json:"stream"`
	MeanMS   float64 `json:"mean_ms"`
}

// TopologyResponse collects the per-model results and failures of one
// request.
type TopologyResponse struct {
	Topology  string                `json:"topology"`
	Reference string                `json:"reference"`
	Results   []TopologyResult      `json:"results"`
	Failures  []errors.FailureEntry `json:"failures,omitempty"`
}

// RunTopology resolves the requested topology models and runs them against
// the topology's current snapshot. Per-model failures are collected beside
// the successful results; the request fails outright when the snapshot
// cannot be ensured, the topology chains key partitioned connections, a
// packing plan is invalid, or every model failed.
func (r *Runner) RunTopology(ctx context.Context, req TopologyRequest) (*TopologyResponse, error) {
	if err := req.Window.Validate(); err != nil {
		return nil, err
	}
	names, err := Resolve(KindTopology, req.Models)
	if err != nil {
		return nil, err
	}

	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordRequestStart(ctx)
		defer r.deps.Metrics.RecordRequestEnd(ctx)
	}

	snap, err := r.ensureCurrent(ctx, req.Cluster, req.Environ, req.Topology)
	if err != nil {
		return nil, err
	}
	if err := routing.CheckSupported(snap); err != nil {
		return nil, err
	}

	resp := &TopologyResponse{Topology: snap.Topology, Reference: snap.Reference}

	results := make([]*TopologyResult, len(names))
	errs := make([]error, len(names))
	sem := make(chan struct{}, r.cfg.Workers)
	var wg sync.WaitGroup
	for i, name := range names {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = r.runTopologyModel(ctx, name, snap, req)
		}(i, name)
	}
	wg.Wait()

	var fatal error
	for i, name := range names {
		if errs[i] == nil {
			resp.Results = append(resp.Results, *results[i])
			continue
		}
		if isFatal(errs[i]) && fatal == nil {
			fatal = errs[i]
		}
		resp.Failures = append(resp.Failures, errors.NewFailureEntry(name, errs[i]))
		r.recordFailure(ctx, name, errs[i])
	}
	if fatal != nil {
		return nil, fatal
	}
	if len(resp.Results) == 0 && len(names) > 0 {
		for i := range names {
			if errs[i] != nil {
				return nil, errs[i]
			}
		}
	}
	return resp, nil
}

// isFatal reports whether a per-model error invalidates the whole request.
func isFatal(err error) bool {
	return errors.HasCode(err, errors.ErrCodeUnsupportedTopology) ||
		errors.HasCode(err, errors.ErrCodeInvalidPlan) ||
		errors.HasCode(err, errors.ErrCodeStructuralInconsistency)
}

func (r *Runner) runTopologyModel(ctx context.Context, name string, snap *graph.Snapshot, req TopologyRequest) (*TopologyResult, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanModelRun)
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrModel, name)
	observability.SetSpanAttribute(ctx, observability.AttrTopology, snap.Topology)
	observability.SetSpanAttribute(ctx, observability.AttrReference, snap.Reference)

	var (
		res *TopologyResult
		err error
	)
	switch name {
	case TopologyQueueing:
		res, err = r.queueingCurrent(ctx, snap, req)
	case TopologyQueueingProposed:
		res, err = r.queueingProposed(ctx, snap, req)
	default:
		err = errors.InvalidInput("model", "unknown model "+name)
	}

	status := "ok"
	if err != nil {
		status = "error"
		observability.SetSpanError(ctx, err)
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordModelRun(ctx, name, status, time.Since(start))
	}
	r.log.Info("model run finished", logger.Fields(
		logger.FieldModel, name,
		logger.FieldTopology, snap.Topology,
		logger.FieldStatus, status,
		logger.FieldDuration, time.Since(start).Milliseconds(),
	))
	return res, err
}

// ensureCurrent wraps the builder's staleness protocol in a span and stage
// metric.
func (r *Runner) ensureCurrent(ctx context.Context, cluster, environ, topo string) (*graph.Snapshot, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanEnsureCurrent)
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrTopology, topo)

	snap, err := r.deps.Builder.EnsureCurrent(ctx, cluster, environ, topo)
	if err != nil {
		observability.SetSpanError(ctx, err)
		return nil, err
	}
	observability.SetSpanAttribute(ctx, observability.AttrReference, snap.Reference)
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordStage(ctx, observability.SpanEnsureCurrent, time.Since(start))
	}
	return snap, nil
}

// propagate wraps the rate propagation in a span and stage metric.
func (r *Runner) propagate(ctx context.Context, snap *graph.Snapshot, sources arrival.SourceRates,
	probs *routing.Set, coeffs *ioratio.CoefficientSet) (*arrival.Rates, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanPropagation)
	defer span.End()

	rates, err := r.deps.Engine.Propagate(snap, sources, probs, coeffs)
	if err != nil {
		observability.SetSpanError(ctx, err)
		return nil, err
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordStage(ctx, observability.SpanPropagation, time.Since(start))
	}
	return rates, nil
}

func (r *Runner) recordFailure(ctx context.Context, source string, err error) {
	if r.deps.Metrics == nil {
		return
	}
	entry := errors.NewFailureEntry(source, err)
	r.deps.Metrics.RecordFailure(ctx, string(entry.Code), source)
}

// parallel runs the fetch tasks concurrently and returns the first error,
// cancelling the rest.
func parallel(ctx context.Context, tasks ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, task := range tasks {
		wg.Add(1)
		go func(task func(context.Context) error) {
			defer wg.Done()
			if err := task(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		}(task)
	}
	wg.Wait()
	return firstErr
}
