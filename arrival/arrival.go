package arrival

import (
	"sort"

	"github.com/kbukum/streamsight/graph"
	"github.com/kbukum/streamsight/ioratio"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/routing"
)

// SourceRates seeds a propagation run: the output rate of every source
// task per output stream, in records per second.
type SourceRates map[int]map[string]float64

// Key identifies one incoming flow at an instance: records arriving on one
// stream from one upstream operator.
type Key struct {
	Stream   string `json:"stream"`
	Upstream string `json:"upstream"`
}

// Entry is one per-instance arrival rate row.
type Entry struct {
	Task     int     `json:"task"`
	Stream   string  `json:"incoming_stream"`
	Upstream string  `json:"upstream"`
	Rate     float64 `json:"arrival_rate"`
}

// OutputEntry is one per-instance output rate row.
type OutputEntry struct {
	Task   int     `json:"task"`
	Stream string  `json:"output_stream"`
	Rate   float64 `json:"output_rate"`
}

// ManagerLoad is the aggregate flow through one stream manager. Incoming is
// absent when the manager owns no instance with arrivals (only sources);
// Outgoing is absent when it owns no instance with outputs (only sinks).
type ManagerLoad struct {
	Manager     string  `json:"stream_manager"`
	Incoming    float64 `json:"incoming,omitempty"`
	HasIncoming bool    `json:"-"`
	Outgoing    float64 `json:"outgoing,omitempty"`
	HasOutgoing bool    `json:"-"`
}

// Rates holds the propagated arrival and output rates for one snapshot and
// one traffic level.
type Rates struct {
	arrivals map[int]map[Key]float64
	outputs  map[int]map[string]float64
	managers []ManagerLoad
}

func newRates() *Rates {
	return &Rates{
		arrivals: make(map[int]map[Key]float64),
		outputs:  make(map[int]map[string]float64),
	}
}

// Arrival returns the rate arriving at a task on one stream from one
// upstream operator.
func (r *Rates) Arrival(task int, stream, upstream string) (float64, bool) {
	v, ok := r.arrivals[task][Key{Stream: stream, Upstream: upstream}]
	return v, ok
}

// ArrivalTotal returns the total rate arriving at a task over all incoming
// flows. Sources report absent.
func (r *Rates) ArrivalTotal(task int) (float64, bool) {
	flows, ok := r.arrivals[task]
	if !ok {
		return 0, false
	}
	total := 0.0
	for _, v := range flows {
		total += v
	}
	return total, true
}

// Output returns the rate a task emits on one output stream.
func (r *Rates) Output(task int, stream string) (float64, bool) {
	v, ok := r.outputs[task][stream]
	return v, ok
}

// OutputTotal returns the total rate a task emits over all output streams.
// Sinks report absent.
func (r *Rates) OutputTotal(task int) (float64, bool) {
	streams, ok := r.outputs[task]
	if !ok {
		return 0, false
	}
	total := 0.0
	for _, v := range streams {
		total += v
	}
	return total, true
}

// Entries returns every arrival rate row ordered by task, stream and
// upstream operator.
func (r *Rates) Entries() []Entry {
	var out []Entry
	for task, flows := range r.arrivals {
		for key, rate := range flows {
			out = append(out, Entry{Task: task, Stream: key.Stream, Upstream: key.Upstream, Rate: rate})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Task != b.Task {
			return a.Task < b.Task
		}
		if a.Stream != b.Stream {
			return a.Stream < b.Stream
		}
		return a.Upstream < b.Upstream
	})
	return out
}

// OutputEntries returns every output rate row ordered by task and stream.
func (r *Rates) OutputEntries() []OutputEntry {
	var out []OutputEntry
	for task, streams := range r.outputs {
		for stream, rate := range streams {
			out = append(out, OutputEntry{Task: task, Stream: stream, Rate: rate})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Task != b.Task {
			return a.Task < b.Task
		}
		return a.Stream < b.Stream
	})
	return out
}

// ManagerLoads returns the per stream manager aggregates ordered by id.
func (r *Rates) ManagerLoads() []ManagerLoad { return r.managers }

func (r *Rates) addArrival(task int, key Key, rate float64) {
	flows, ok := r.arrivals[task]
	if !ok {
		flows = make(map[Key]float64)
		r.arrivals[task] = flows
	}
	flows[key] += rate
}

func (r *Rates) setOutput(task int, stream string, rate float64) {
	streams, ok := r.outputs[task]
	if !ok {
		streams = make(map[string]float64)
		r.outputs[task] = streams
	}
	streams[stream] = rate
}

// Engine propagates source rates through snapshots.
type Engine struct {
	log *logger.Logger
}

// NewEngine returns a propagation engine.
func NewEngine(log *logger.Logger) *Engine {
	return &Engine{log: log.WithComponent("arrival")}
}

// Propagate pushes the source output rates through the topology level by
// level: outputs of each level follow from its arrivals and coefficients,
// arrivals at the next level follow from outputs and routing probabilities.
// The final level only receives. Fails when the snapshot has no flow levels
// (a connection cycle).
func (p *Engine) Propagate(snap *graph.Snapshot, sources SourceRates, probabilities *routing.Set, coefficients *ioratio.CoefficientSet) (*Rates, error) {
	levels, err := snap.Levels()
	if err != nil {
		return nil, err
	}

	rates := newRates()
	for task, streams := range sources {
		for stream, rate := range streams {
			rates.setOutput(task, stream, rate)
		}
	}

	for i, level := range levels {
		if i == len(levels)-1 {
			break // the last level only receives
		}
		if i != 0 {
			for _, task := range level {
				p.computeOutputs(snap, task, rates, coefficients)
			}
		}
		for _, task := range level {
			p.computeArrivals(snap, task, rates, probabilities)
		}
	}

	rates.managers = aggregateManagers(snap, rates)

	p.log.Debug("Propagated arrival rates", logger.Fields(
		"topology", snap.Topology,
		"levels", len(levels),
		"instances", len(rates.arrivals),
	))
	return rates, nil
}

// computeOutputs derives a task's per-stream output rates from its
// accumulated arrivals. A missing coefficient contributes zero and a
// negative sum clamps to zero, since negative throughput has no physical
// meaning.
func (p *Engine) computeOutputs(snap *graph.Snapshot, task int, rates *Rates, coefficients *ioratio.CoefficientSet) {
	var inputs []Key
	seenIn := make(map[Key]bool)
	for _, edge := range snap.InEdges(task) {
		key := Key{Stream: edge.Stream, Upstream: edge.SourceOperator}
		if !seenIn[key] {
			seenIn[key] = true
			inputs = append(inputs, key)
		}
	}

	seenOut := make(map[string]bool)
	for _, edge := range snap.OutEdges(task) {
		if seenOut[edge.Stream] {
			continue
		}
		seenOut[edge.Stream] = true

		rate := 0.0
		for _, in := range inputs {
			arrived := rates.arrivals[task][in]
			if arrived == 0 {
				continue
			}
			coeff, ok := lookupCoefficient(coefficients, task, edge.Stream, in)
			if !ok {
				continue
			}
			rate += arrived * coeff
		}
		if rate < 0 {
			rate = 0
		}
		rates.setOutput(task, edge.Stream, rate)
	}
}

// computeArrivals pushes a task's output rates across its outgoing
// connections. A connection without a known routing probability contributes
// zero.
func (p *Engine) computeArrivals(snap *graph.Snapshot, task int, rates *Rates, probabilities *routing.Set) {
	for _, edge := range snap.OutEdges(task) {
		output := rates.outputs[task][edge.Stream]
		if output == 0 {
			continue
		}
		prob, ok := edgeProbability(edge, probabilities)
		if !ok || prob == 0 {
			continue
		}
		rates.addArrival(edge.DestTask, Key{Stream: edge.Stream, Upstream: edge.SourceOperator}, output*prob)
	}
}

func aggregateManagers(snap *graph.Snapshot, rates *Rates) []ManagerLoad {
	var loads []ManagerLoad
	for _, m := range snap.StreamManagers() {
		load := ManagerLoad{Manager: m.ID}
		for _, task := range snap.ManagerTasks(m.ID) {
			if total, ok := rates.ArrivalTotal(task); ok {
				load.Incoming += total
				load.HasIncoming = true
			}
			if total, ok := rates.OutputTotal(task); ok {
				load.Outgoing += total
				load.HasOutgoing = true
			}
		}
		loads = append(loads, load)
	}
	return loads
}

// edgeProbability resolves the routing probability for one connection:
// structural schemes carry it on the edge, key partitioned schemes carry it
// in the estimated set.
func edgeProbability(edge *graph.Edge, probabilities *routing.Set) (float64, bool) {
	if edge.HasProbability {
		return edge.Probability, true
	}
	if probabilities == nil {
		return 0, false
	}
	return probabilities.Probability(edge.SourceTask, edge.DestTask, edge.Stream)
}

func lookupCoefficient(set *ioratio.CoefficientSet, task int, output string, in Key) (float64, bool) {
	if set == nil {
		return 0, false
	}
	return set.Coefficient(task, output, in.Stream, in.Upstream)
}
