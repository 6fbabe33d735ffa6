package routing

import (
	"context"
	"fmt"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/graph"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/telemetry"
	"github.com/kbukum/streamsight/topology"
)

// Mode records which signal produced a probability set.
type Mode string

const (
	// ModeTransfer derives probabilities from observed instance to instance
	// transfer counts.
	ModeTransfer Mode = "transfer"
	// ModeActivation infers probabilities from each destination instance's
	// share of its operator's execute counts.
	ModeActivation Mode = "activation"
)

// Key identifies one logical connection on one stream.
type Key struct {
	SourceTask int    `json:"source_task"`
	DestTask   int    `json:"destination_task"`
	Stream     string `json:"stream"`
}

// Set holds the routing probabilities estimated for the key partitioned
// connections of one topology over one window. A connection that was never
// observed is reported as absent; propagation treats it as zero
// contribution.
type Set struct {
	Mode          Mode
	probabilities map[Key]float64
}

// NewSet builds a probability set from explicit entries. Estimators are the
// usual source; this constructor serves callers replaying recorded or
// synthetic probabilities.
func NewSet(mode Mode, probabilities map[Key]float64) *Set {
	set := &Set{Mode: mode, probabilities: make(map[Key]float64, len(probabilities))}
	for k, p := range probabilities {
		set.probabilities[k] = p
	}
	return set
}

// Probability returns the estimated probability for one connection.
func (s *Set) Probability(sourceTask, destTask int, stream string) (float64, bool) {
	p, ok := s.probabilities[Key{SourceTask: sourceTask, DestTask: destTask, Stream: stream}]
	return p, ok
}

// Len returns the number of estimated probabilities.
func (s *Set) Len() int { return len(s.probabilities) }

// Estimator derives key partitioned routing probabilities from telemetry.
type Estimator struct {
	metrics telemetry.Client
	log     *logger.Logger
}

// NewEstimator returns an estimator reading counts from the given telemetry
// client.
func NewEstimator(metrics telemetry.Client, log *logger.Logger) *Estimator {
	return &Estimator{metrics: metrics, log: log.WithComponent("routing")}
}

// EstimateCurrent infers probabilities for the running topology from each
// destination instance's share of its operator's execute counts on the
// connection's stream. The share is applied identically to every source
// instance, which assumes all instances of the upstream operator see the
// same key mix; CheckSupported guards that assumption.
func (e *Estimator) EstimateCurrent(ctx context.Context, snap *graph.Snapshot, cluster, environ string, w telemetry.Window) (*Set, error) {
	set := &Set{Mode: ModeActivation, probabilities: make(map[Key]float64)}
	edges := fieldsEdges(snap)
	if len(edges) == 0 {
		return set, nil
	}
	if err := CheckSupported(snap); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	rows, err := e.metrics.ExecuteCounts(ctx, cluster, environ, snap.Topology, w)
	if err != nil {
		return nil, err
	}

	type instanceShare struct {
		task     int
		stream   string
		upstream string
	}
	type operatorTotal struct {
		operator string
		stream   string
		upstream string
	}
	type taskStream struct {
		task   int
		stream string
	}
	executed := make(map[instanceShare]float64)
	totals := make(map[operatorTotal]float64)
	upstreams := make(map[taskStream][]string)
	for _, row := range rows {
		source := row.Source
		if source == "" {
			key := taskStream{task: row.Task, stream: row.Stream}
			candidates, ok := upstreams[key]
			if !ok {
				candidates = snap.UpstreamOperators(row.Task, row.Stream)
				upstreams[key] = candidates
			}
			if len(candidates) != 1 {
				continue
			}
			source = candidates[0]
		}
		executed[instanceShare{task: row.Task, stream: row.Stream, upstream: source}] += row.Value
		totals[operatorTotal{operator: row.Operator, stream: row.Stream, upstream: source}] += row.Value
	}

	for _, edge := range edges {
		total := totals[operatorTotal{operator: edge.DestOperator, stream: edge.Stream, upstream: edge.SourceOperator}]
		if total <= 0 {
			continue
		}
		share := executed[instanceShare{task: edge.DestTask, stream: edge.Stream, upstream: edge.SourceOperator}]
		set.probabilities[Key{SourceTask: edge.SourceTask, DestTask: edge.DestTask, Stream: edge.Stream}] = share / total
	}

	e.log.Debug("Estimated routing probabilities from execute count shares", logger.Fields(
		"topology", snap.Topology, "connections", set.Len()))
	return set, nil
}

// EstimateProposed derives probabilities from observed instance to instance
// transfer counts: the fraction of records a source instance sent on a
// stream that reached one destination instance, relative to everything it
// sent to that destination operator.
func (e *Estimator) EstimateProposed(ctx context.Context, snap *graph.Snapshot, cluster, environ string, w telemetry.Window) (*Set, error) {
	set := &Set{Mode: ModeTransfer, probabilities: make(map[Key]float64)}
	edges := fieldsEdges(snap)
	if len(edges) == 0 {
		return set, nil
	}
	if err := CheckSupported(snap); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	rows, err := e.metrics.TransferCounts(ctx, cluster, environ, snap.Topology, w)
	if err != nil {
		return nil, err
	}

	type pairTotal struct {
		sourceTask int
		destTask   int
		stream     string
	}
	type operatorTotal struct {
		sourceTask int
		stream     string
		operator   string
	}
	transferred := make(map[pairTotal]float64)
	totals := make(map[operatorTotal]float64)
	for _, row := range rows {
		transferred[pairTotal{sourceTask: row.SourceTask, destTask: row.Task, stream: row.Stream}] += row.Value
		totals[operatorTotal{sourceTask: row.SourceTask, stream: row.Stream, operator: row.Operator}] += row.Value
	}

	for _, edge := range edges {
		total := totals[operatorTotal{sourceTask: edge.SourceTask, stream: edge.Stream, operator: edge.DestOperator}]
		if total <= 0 {
			continue
		}
		moved := transferred[pairTotal{sourceTask: edge.SourceTask, destTask: edge.DestTask, stream: edge.Stream}]
		set.probabilities[Key{SourceTask: edge.SourceTask, DestTask: edge.DestTask, Stream: edge.Stream}] = moved / total
	}

	e.log.Debug("Estimated routing probabilities from transfer counts", logger.Fields(
		"topology", snap.Topology, "connections", set.Len()))
	return set, nil
}

// CheckSupported rejects topologies that chain key partitioned connections.
// The destination shares of the second connection depend on the key mix
// each source instance received, so no single share can stand in for every
// source instance.
func CheckSupported(snap *graph.Snapshot) error {
	fieldsInto := make(map[string]bool)
	for _, edge := range snap.Edges() {
		if edge.Partitioning == topology.PartitionFields {
			fieldsInto[edge.DestOperator] = true
		}
	}
	for _, edge := range snap.Edges() {
		if edge.Partitioning == topology.PartitionFields && fieldsInto[edge.SourceOperator] {
			return errors.UnsupportedTopology(fmt.Sprintf(
				"the key partitioned connection %s -> %s on stream %s starts at an operator that itself consumes a key partitioned stream",
				edge.SourceOperator, edge.DestOperator, edge.Stream))
		}
	}
	return nil
}

func fieldsEdges(snap *graph.Snapshot) []*graph.Edge {
	var edges []*graph.Edge
	for _, edge := range snap.Edges() {
		if edge.Partitioning == topology.PartitionFields {
			edges = append(edges, edge)
		}
	}
	return edges
}
