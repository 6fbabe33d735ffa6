package model

import (
	"context"
	"sort"
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

// queueingCurrent predicts waiting times and backpressure under the traffic
// the topology is carrying right now. Source rates come from emit-count
// telemetry, routing probabilities from activation shares, and the arrival
// process variability from measured inter-arrival gaps when the backend
// provides them.
func (r *Runner) queueingCurrent(ctx context.Context, snap *graph.Snapshot, req TopologyRequest) (*TopologyResult, error) {
	provider := traffic.NewCurrent(r.deps.Telemetry, snap, req.Cluster, req.Environ, r.log)

	var (
		sources     arrival.SourceRates
		probs       *routing.Set
		coeffs      *ioratio.CoefficientSet
		serviceRows []telemetry.Row
	)
	err := parallel(ctx,
		func(ctx context.Context) error {
			var err error
			sources, err = provider.ArrivalRates(ctx, req.Window)
			return err
		},
		func(ctx context.Context) error {
			var err error
			probs, err = r.deps.Probabilities.EstimateCurrent(ctx, snap, req.Cluster, req.Environ, req.Window)
			return err
		},
		func(ctx context.Context) error {
			var err error
			coeffs, err = r.deps.Coefficients.Estimate(ctx, snap, req.Cluster, req.Environ, req.Window)
			return err
		},
		func(ctx context.Context) error {
			var err error
			serviceRows, err = r.deps.Telemetry.ServiceTimes(ctx, req.Cluster, req.Environ, snap.Topology, req.Window)
			return err
		},
	)
	if err != nil {
		return nil, err
	}

	rates, err := r.propagate(ctx, snap, sources, probs, coeffs)
	if err != nil {
		return nil, err
	}

	service := queueing.ServiceStatsOf(serviceRows)
	totals := arrivalTotals(snap, rates)
	arrivals := queueing.ArrivalStatsFromRates(totals)

	// Measured gap spread refines the general estimator; losing it only
	// costs the variability term.
	measured, err := r.deps.Telemetry.ArrivalRates(ctx, req.Cluster, req.Environ, snap.Topology, req.Window)
	if err != nil {
		r.log.Debug("measured arrival rates unavailable", logger.MergeWithError(
			logger.Fields(logger.FieldTopology, snap.Topology), err))
	} else {
		mergeInterArrivals(arrivals, queueing.ArrivalStatsOf(measured))
	}

	reports := r.estimateQueues(ctx, service, arrivals)

	result := &TopologyResult{
		Model:       TopologyQueueing,
		RoutingMode: probs.Mode,
		Rates: RateTable{
			Arrivals: rates.Entries(),
			Outputs:  rates.OutputEntries(),
			Managers: rates.ManagerLoads(),
		},
		Instances: reports,
	}

	if r.deps.Queue.Name() == queueing.EstimatorGeneral {
		result.Diagnostics = r.naiveQueues(ctx, snap, req)
	}
	if snap.Reliability == topology.ReliabilityAtLeastOnce {
		result.Measured = r.measuredLatencies(ctx, snap, req)
	}

	latencies, err := r.pathLatencies(ctx, snap, service, reports)
	if err != nil {
		return nil, err
	}
	result.Paths = latencies
	return result, nil
}

// queueingProposed predicts the same quantities under a hypothesized source
// load and, optionally, a replacement packing plan. Routing probabilities
// come from transfer counts and a resource recommendation adjusts the
// expected service rates before queueing.
func (r *Runner) queueingProposed(ctx context.Context, snap *graph.Snapshot, req TopologyRequest) (*TopologyResult, error) {
	if len(req.Traffic) == 0 {
		return nil, errors.MissingField("traffic")
	}
	static, err := traffic.NewStatic(snap, req.Traffic)
	if err != nil {
		return nil, err
	}
	sources, err := static.ArrivalRates(ctx, req.Window)
	if err != nil {
		return nil, err
	}

	var (
		probs       *routing.Set
		coeffs      *ioratio.CoefficientSet
		serviceRows []telemetry.Row
		cpuRows     []telemetry.Row
		gcRows      []telemetry.Row
	)
	err = parallel(ctx,
		func(ctx context.Context) error {
			var err error
			probs, err = r.deps.Probabilities.EstimateProposed(ctx, snap, req.Cluster, req.Environ, req.Window)
			return err
		},
		func(ctx context.Context) error {
			var err error
			coeffs, err = r.deps.Coefficients.Estimate(ctx, snap, req.Cluster, req.Environ, req.Window)
			return err
		},
		func(ctx context.Context) error {
			var err error
			serviceRows, err = r.deps.Telemetry.ServiceTimes(ctx, req.Cluster, req.Environ, snap.Topology, req.Window)
			return err
		},
		func(ctx context.Context) error {
			var err error
			cpuRows, err = r.deps.Telemetry.CPULoad(ctx, req.Cluster, req.Environ, snap.Topology, req.Window)
			return err
		},
		func(ctx context.Context) error {
			var err error
			gcRows, err = r.deps.Telemetry.GCTimeMS(ctx, req.Cluster, req.Environ, snap.Topology, req.Window)
			return err
		},
	)
	if err != nil {
		return nil, err
	}

	plan := req.Plan
	if plan == nil {
		plan, err = r.deps.Plans.PackingPlan(ctx, req.Cluster, req.Environ, req.Topology)
		if err != nil {
			return nil, err
		}
	}

	rates, err := r.propagate(ctx, snap, sources, probs, coeffs)
	if err != nil {
		return nil, err
	}

	service := queueing.ServiceStatsOf(serviceRows)
	totals := arrivalTotals(snap, rates)

	rec, err := r.recommendResources(ctx, plan, cpuRows, gcRows, service, totals)
	if err != nil {
		return nil, err
	}
	adjusted := adjustServiceStats(service, rec.AdjustedRates)

	reports := r.estimateQueues(ctx, adjusted, queueing.ArrivalStatsFromRates(totals))

	latencies, err := r.pathLatencies(ctx, snap, adjusted, reports)
	if err != nil {
		return nil, err
	}

	return &TopologyResult{
		Model:       TopologyQueueingProposed,
		RoutingMode: probs.Mode,
		Rates: RateTable{
			Arrivals: rates.Entries(),
			Outputs:  rates.OutputEntries(),
			Managers: rates.ManagerLoads(),
		},
		Instances:      reports,
		Paths:          latencies,
		Recommendation: rec,
	}, nil
}

func (r *Runner) estimateQueues(ctx context.Context, service []queueing.ServiceStats, arrivals []queueing.ArrivalStats) []queueing.Report {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanQueueing)
	defer span.End()

	reports := r.deps.Queue.Estimate(service, arrivals)
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordStage(ctx, observability.SpanQueueing, time.Since(start))
	}
	return reports
}

func (r *Runner) recommendResources(ctx context.Context, plan *topology.PackingPlan, cpu, gc []telemetry.Row,
	service []queueing.ServiceStats, totals map[int]float64) (*recommend.Recommendation, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanRecommend)
	defer span.End()

	serviceRates := make(map[int]float64, len(service))
	for _, svc := range service {
		serviceRates[svc.Task] = svc.Rate()
	}
	rec, err := r.deps.Recommender.Recommend(plan, cpu, gc, serviceRates, totals)
	if err != nil {
		observability.SetSpanError(ctx, err)
		return nil, err
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordStage(ctx, observability.SpanRecommend, time.Since(start))
	}
	return rec, nil
}

// pathLatencies sums per-instance sojourn times along every source-to-sink
// route of the snapshot.
func (r *Runner) pathLatencies(ctx context.Context, snap *graph.Snapshot,
	service []queueing.ServiceStats, reports []queueing.Report) ([]paths.Latency, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanPaths)
	defer span.End()

	serviceMS := make(map[int]float64, len(service))
	for _, svc := range service {
		serviceMS[svc.Task] = svc.Mean
	}
	waitingMS := make(map[int]float64, len(reports))
	for _, rep := range reports {
		waitingMS[rep.Task] = rep.Waiting
	}
	latencies, err := r.deps.Analyzer.Latencies(ctx, snap, serviceMS, waitingMS)
	if err != nil {
		observability.SetSpanError(ctx, err)
		return nil, err
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.RecordStage(ctx, observability.SpanPaths, time.Since(start))
	}
	return latencies, nil
}

// naiveQueues is a best-effort sanity check for the general estimator:
// arrived minus executed counts over the window. Missing counters drop the
// diagnostic, never the model.
func (r *Runner) naiveQueues(ctx context.Context, snap *graph.Snapshot, req TopologyRequest) []queueing.NaiveQueue {
	received, err := r.deps.Telemetry.ReceiveCounts(ctx, req.Cluster, req.Environ, snap.Topology, req.Window)
	if err != nil {
		r.log.Debug("receive counts unavailable, skipping queue diagnostics", logger.MergeWithError(
			logger.Fields(logger.FieldTopology, snap.Topology), err))
		return nil
	}
	executed, err := r.deps.Telemetry.ExecuteCounts(ctx, req.Cluster, req.Environ, snap.Topology, req.Window)
	if err != nil {
		r.log.Debug("execute counts unavailable, skipping queue diagnostics", logger.MergeWithError(
			logger.Fields(logger.FieldTopology, snap.Topology), err))
		return nil
	}
	return queueing.NaiveQueueSizes(received, executed)
}

// measuredLatencies averages the end-to-end tuple latencies the runtime
// records under at-least-once delivery, one entry per source instance and
// stream, reported beside the predicted route latencies. A backend that
// cannot serve the metric drops the comparison, never the model.
func (r *Runner) measuredLatencies(ctx context.Context, snap *graph.Snapshot, req TopologyRequest) []MeasuredLatency {
	rows, err := r.deps.Telemetry.CompleteLatencies(ctx, req.Cluster, req.Environ, snap.Topology, req.Window)
	if err != nil {
		r.log.Debug("complete latencies unavailable, skipping measured latencies", logger.MergeWithError(
			logger.Fields(logger.FieldTopology, snap.Topology), err))
		return nil
	}

	type key struct {
		task   int
		stream string
	}
	sums := make(map[key]*MeasuredLatency)
	counts := make(map[key]int)
	for _, row := range rows {
		k := key{task: row.Task, stream: row.Stream}
		entry, ok := sums[k]
		if !ok {
			entry = &MeasuredLatency{Task: row.Task, Operator: row.Operator, Stream: row.Stream}
			sums[k] = entry
		}
		entry.MeanMS += row.Value
		counts[k]++
	}

	out := make([]MeasuredLatency, 0, len(sums))
	for k, entry := range sums {
		entry.MeanMS /= float64(counts[k])
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Task != out[j].Task {
			return out[i].Task < out[j].Task
		}
		return out[i].Stream < out[j].Stream
	})
	return out
}

// arrivalTotals flattens propagated rates into records per second by task.
func arrivalTotals(snap *graph.Snapshot, rates *arrival.Rates) map[int]float64 {
	totals := make(map[int]float64)
	for _, task := range snap.Tasks() {
		if total, ok := rates.ArrivalTotal(task); ok {
			totals[task] = total
		}
	}
	return totals
}

// mergeInterArrivals overlays measured gap statistics onto rate-derived
// arrival stats. The propagated rate stays authoritative.
func mergeInterArrivals(stats []queueing.ArrivalStats, measured []queueing.ArrivalStats) {
	byTask := make(map[int]queueing.ArrivalStats, len(measured))
	for _, m := range measured {
		byTask[m.Task] = m
	}
	for i := range stats {
		m, ok := byTask[stats[i].Task]
		if !ok || m.MeanInterArrival <= 0 {
			continue
		}
		stats[i].MeanInterArrival = m.MeanInterArrival
		stats[i].StdInterArrival = m.StdInterArrival
	}
}

// adjustServiceStats rescales service time distributions to the rates a
// recommendation expects after repacking, preserving each instance's
// coefficient of variation.
func adjustServiceStats(stats []queueing.ServiceStats, adjusted map[int]float64) []queueing.ServiceStats {
	out := make([]queueing.ServiceStats, len(stats))
	copy(out, stats)
	for i := range out {
		rate, ok := adjusted[out[i].Task]
		if !ok || rate <= 0 {
			continue
		}
		mean := 1000 / rate
		if out[i].Mean > 0 {
			scale := mean / out[i].Mean
			out[i].Std *= scale
			out[i].Median *= scale
		}
		out[i].Mean = mean
	}
	return out
}
