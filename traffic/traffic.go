package traffic

import (
	"context"
	"fmt"

	"github.com/kbukum/streamsight/arrival"
	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/graph"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/telemetry"
)

// Provider supplies the per-task source output rates that seed rate
// propagation, in records per second.
type Provider interface {
	ArrivalRates(ctx context.Context, w telemetry.Window) (arrival.SourceRates, error)
}

// Current derives source rates from measured emit counts: the counts of
// every source instance and stream are summed over the window and divided
// by its length, so intervals without traffic pull the average down.
type Current struct {
	metrics telemetry.Client
	snap    *graph.Snapshot
	cluster string
	environ string
	log     *logger.Logger
}

// NewCurrent creates a provider reading the given topology snapshot's
// source emit counts.
func NewCurrent(metrics telemetry.Client, snap *graph.Snapshot, cluster, environ string, log *logger.Logger) *Current {
	return &Current{
		metrics: metrics,
		snap:    snap,
		cluster: cluster,
		environ: environ,
		log:     log.WithComponent("traffic"),
	}
}

// ArrivalRates averages the source emit counts over the window. Fails when
// the window holds no source measurements at all, since an all-zero seed
// would predict an idle topology rather than reveal the gap.
func (p *Current) ArrivalRates(ctx context.Context, w telemetry.Window) (arrival.SourceRates, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	rows, err := p.metrics.EmitCounts(ctx, p.cluster, p.environ, p.snap.Topology, w)
	if err != nil {
		return nil, err
	}

	sources := make(map[int]bool)
	for _, task := range p.snap.SourceTasks() {
		sources[task] = true
	}

	rates := arrival.SourceRates{}
	for _, row := range rows {
		if !sources[row.Task] {
			continue
		}
		if rates[row.Task] == nil {
			rates[row.Task] = map[string]float64{}
		}
		rates[row.Task][row.Stream] += row.Value
	}
	if len(rates) == 0 {
		return nil, errors.MetricUnavailable(telemetry.MetricEmitCount, p.metrics.Backend()).
			WithDetail("reason", "no source emit counts in the window")
	}

	seconds := w.Duration().Seconds()
	for _, streams := range rates {
		for stream, total := range streams {
			streams[stream] = total / seconds
		}
	}

	p.log.Debug("Measured source rates", logger.Fields(
		logger.FieldTopology, p.snap.Topology,
		"sources", len(rates),
		"window_s", seconds,
	))
	return rates, nil
}

// Static carries a hypothesized rate document. Rates arrive per source
// operator and output stream as operator totals and are split evenly over
// the operator's instances.
type Static struct {
	rates arrival.SourceRates
}

// NewStatic validates the rate document against the snapshot and expands it
// to per-task rates. Every named operator must be a source operator of the
// topology; a stream the topology never consumes simply propagates nothing.
func NewStatic(snap *graph.Snapshot, operatorRates map[string]map[string]float64) (*Static, error) {
	if len(operatorRates) == 0 {
		return nil, errors.MissingField("traffic")
	}

	rates := arrival.SourceRates{}
	for operator, streams := range operatorRates {
		tasks := snap.OperatorTasks(operator)
		if len(tasks) == 0 || !isSource(snap, operator) {
			return nil, errors.InvalidInput("traffic",
				fmt.Sprintf("%q is not a source operator of topology %s", operator, snap.Topology))
		}
		for stream, rate := range streams {
			if rate < 0 {
				return nil, errors.InvalidInput("traffic",
					fmt.Sprintf("rate %v for %s/%s is negative", rate, operator, stream))
			}
			share := rate / float64(len(tasks))
			for _, task := range tasks {
				if rates[task] == nil {
					rates[task] = map[string]float64{}
				}
				rates[task][stream] = share
			}
		}
	}
	return &Static{rates: rates}, nil
}

// ArrivalRates returns the hypothesized rates; the window is irrelevant.
func (p *Static) ArrivalRates(context.Context, telemetry.Window) (arrival.SourceRates, error) {
	return p.rates, nil
}

func isSource(snap *graph.Snapshot, operator string) bool {
	for _, src := range snap.SourceOperators() {
		if src == operator {
			return true
		}
	}
	return false
}
