package arrival

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/graph"
	"github.com/kbukum/streamsight/ioratio"
	"github.com/kbukum/streamsight/lock"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/routing"
	"github.com/kbukum/streamsight/topology"
)

var snapTime = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

func buildSnapshot(t *testing.T, topo string, lp *topology.LogicalPlan, pp *topology.PhysicalPlan) *graph.Snapshot {
	t.Helper()
	b := graph.NewBuilder(graph.NewStore(), nil, lock.NewLocal(), logger.NewDefault("arrival-test"))
	snap, err := b.BuildSnapshot(context.Background(), topo, graph.NewReference(snapTime), lp, pp)
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	return snap
}

// wordcountSnapshot wires reader -> splitter (shuffle) -> counter (fields)
// with two splitter and two counter instances spread over two stream
// managers.
func wordcountSnapshot(t *testing.T) *graph.Snapshot {
	t.Helper()
	lp := &topology.LogicalPlan{
		Sources: map[string]topology.SourceSpec{
			"reader": {Outputs: []topology.OutputStream{{Stream: "lines"}}},
		},
		Processors: map[string]topology.ProcessorSpec{
			"splitter": {
				Inputs:  []topology.InputStream{{Upstream: "reader", Stream: "lines", Partitioning: topology.PartitionShuffle}},
				Outputs: []topology.OutputStream{{Stream: "words"}},
			},
			"counter": {
				Inputs: []topology.InputStream{{Upstream: "splitter", Stream: "words", Partitioning: topology.PartitionFields}},
			},
		},
	}
	pp := &topology.PhysicalPlan{
		StreamManagers: map[string]topology.StreamManager{
			"stmgr-1": {
				ID: "stmgr-1", Host: "host-a", Port: 8080,
				Instances: []string{"container_1_reader_1", "container_1_splitter_2", "container_1_counter_4"},
			},
			"stmgr-2": {
				ID: "stmgr-2", Host: "host-b", Port: 8080,
				Instances: []string{"container_2_splitter_3", "container_2_counter_5"},
			},
		},
		Operators: map[string][]string{
			"reader":   {"container_1_reader_1"},
			"splitter": {"container_1_splitter_2", "container_2_splitter_3"},
			"counter":  {"container_1_counter_4", "container_2_counter_5"},
		},
	}
	return buildSnapshot(t, "wordcount", lp, pp)
}

// relaySnapshot puts the only source on one stream manager and the only sink
// on the other.
func relaySnapshot(t *testing.T) *graph.Snapshot {
	t.Helper()
	lp := &topology.LogicalPlan{
		Sources: map[string]topology.SourceSpec{
			"reader": {Outputs: []topology.OutputStream{{Stream: "lines"}}},
		},
		Processors: map[string]topology.ProcessorSpec{
			"printer": {
				Inputs: []topology.InputStream{{Upstream: "reader", Stream: "lines", Partitioning: topology.PartitionShuffle}},
			},
		},
	}
	pp := &topology.PhysicalPlan{
		StreamManagers: map[string]topology.StreamManager{
			"stmgr-1": {
				ID: "stmgr-1", Host: "host-a", Port: 8080,
				Instances: []string{"container_1_reader_1"},
			},
			"stmgr-2": {
				ID: "stmgr-2", Host: "host-b", Port: 8080,
				Instances: []string{"container_2_printer_2"},
			},
		},
		Operators: map[string][]string{
			"reader":  {"container_1_reader_1"},
			"printer": {"container_2_printer_2"},
		},
	}
	return buildSnapshot(t, "relay", lp, pp)
}

// cyclicSnapshot closes a loop between two processors. The plan documents are
// well formed, so the cycle only surfaces when flow levels are derived.
func cyclicSnapshot(t *testing.T) *graph.Snapshot {
	t.Helper()
	lp := &topology.LogicalPlan{
		Sources: map[string]topology.SourceSpec{
			"seed": {Outputs: []topology.OutputStream{{Stream: "start"}}},
		},
		Processors: map[string]topology.ProcessorSpec{
			"ping": {
				Inputs: []topology.InputStream{
					{Upstream: "seed", Stream: "start", Partitioning: topology.PartitionShuffle},
					{Upstream: "pong", Stream: "replies", Partitioning: topology.PartitionShuffle},
				},
				Outputs: []topology.OutputStream{{Stream: "calls"}},
			},
			"pong": {
				Inputs:  []topology.InputStream{{Upstream: "ping", Stream: "calls", Partitioning: topology.PartitionShuffle}},
				Outputs: []topology.OutputStream{{Stream: "replies"}},
			},
		},
	}
	pp := &topology.PhysicalPlan{
		StreamManagers: map[string]topology.StreamManager{
			"stmgr-1": {
				ID: "stmgr-1", Host: "host-a", Port: 8080,
				Instances: []string{"container_1_seed_1", "container_1_ping_2", "container_1_pong_3"},
			},
		},
		Operators: map[string][]string{
			"seed": {"container_1_seed_1"},
			"ping": {"container_1_ping_2"},
			"pong": {"container_1_pong_3"},
		},
	}
	return buildSnapshot(t, "pingpong", lp, pp)
}

// wordcountSources emits the given number of lines per second out of the
// single reader task.
func wordcountSources(rate float64) SourceRates {
	return SourceRates{1: {"lines": rate}}
}

// splitterCoefficients makes every splitter task emit value words per line.
func splitterCoefficients(value float64) *ioratio.CoefficientSet {
	return ioratio.NewCoefficientSet(map[ioratio.Key]float64{
		{Task: 2, Output: "words", Input: "lines", Upstream: "reader"}: value,
		{Task: 3, Output: "words", Input: "lines", Upstream: "reader"}: value,
	})
}

// counterRouting skews the key partitioned split differently per splitter
// task.
func counterRouting() *routing.Set {
	return routing.NewSet(routing.ModeActivation, map[routing.Key]float64{
		{SourceTask: 2, DestTask: 4, Stream: "words"}: 0.75,
		{SourceTask: 2, DestTask: 5, Stream: "words"}: 0.25,
		{SourceTask: 3, DestTask: 4, Stream: "words"}: 0.6,
		{SourceTask: 3, DestTask: 5, Stream: "words"}: 0.4,
	})
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// --- Propagate tests ---

func TestPropagateLinear(t *testing.T) {
	snap := wordcountSnapshot(t)
	engine := NewEngine(logger.NewDefault("arrival-test"))

	rates, err := engine.Propagate(snap, wordcountSources(1000), counterRouting(), splitterCoefficients(3))
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	// The shuffle halves the reader output across the two splitters.
	for _, task := range []int{2, 3} {
		if got, ok := rates.Arrival(task, "lines", "reader"); !ok || !almostEqual(got, 500) {
			t.Errorf("Arrival(%d, lines, reader) = %v (ok=%v), want 500", task, got, ok)
		}
		if got, ok := rates.Output(task, "words"); !ok || !almostEqual(got, 1500) {
			t.Errorf("Output(%d, words) = %v (ok=%v), want 1500", task, got, ok)
		}
	}

	// Counters accumulate 1500*0.75 + 1500*0.6 and 1500*0.25 + 1500*0.4.
	if got, ok := rates.Arrival(4, "words", "splitter"); !ok || !almostEqual(got, 2025) {
		t.Errorf("Arrival(4, words, splitter) = %v (ok=%v), want 2025", got, ok)
	}
	if got, ok := rates.Arrival(5, "words", "splitter"); !ok || !almostEqual(got, 975) {
		t.Errorf("Arrival(5, words, splitter) = %v (ok=%v), want 975", got, ok)
	}

	// A source never receives, a sink never emits.
	if _, ok := rates.ArrivalTotal(1); ok {
		t.Error("expected no arrivals at the reader task")
	}
	if _, ok := rates.OutputTotal(4); ok {
		t.Error("expected no outputs at a counter task")
	}

	if entries := rates.Entries(); len(entries) != 4 {
		t.Errorf("Entries() returned %d rows, want 4", len(entries))
	}
	if outputs := rates.OutputEntries(); len(outputs) != 3 {
		t.Errorf("OutputEntries() returned %d rows, want 3", len(outputs))
	}
}

func TestPropagateManagerLoads(t *testing.T) {
	snap := wordcountSnapshot(t)
	engine := NewEngine(logger.NewDefault("arrival-test"))

	rates, err := engine.Propagate(snap, wordcountSources(1000), counterRouting(), splitterCoefficients(3))
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	loads := rates.ManagerLoads()
	if len(loads) != 2 {
		t.Fatalf("expected 2 stream manager loads, got %d", len(loads))
	}
	// stmgr-1 serves tasks 1, 2 and 4; stmgr-2 serves tasks 3 and 5.
	if got := loads[0]; got.Manager != "stmgr-1" || !almostEqual(got.Incoming, 2525) || !almostEqual(got.Outgoing, 2500) {
		t.Errorf("loads[0] = %+v, want stmgr-1 incoming 2525 outgoing 2500", got)
	}
	if got := loads[1]; got.Manager != "stmgr-2" || !almostEqual(got.Incoming, 1475) || !almostEqual(got.Outgoing, 1500) {
		t.Errorf("loads[1] = %+v, want stmgr-2 incoming 1475 outgoing 1500", got)
	}
}

func TestPropagateManagerFlowFlags(t *testing.T) {
	snap := relaySnapshot(t)
	engine := NewEngine(logger.NewDefault("arrival-test"))

	rates, err := engine.Propagate(snap, wordcountSources(1000), nil, nil)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	loads := rates.ManagerLoads()
	if len(loads) != 2 {
		t.Fatalf("expected 2 stream manager loads, got %d", len(loads))
	}
	// The manager holding only the source has nothing incoming, the one
	// holding only the sink has nothing outgoing.
	if got := loads[0]; got.HasIncoming || !got.HasOutgoing || !almostEqual(got.Outgoing, 1000) {
		t.Errorf("loads[0] = %+v, want outgoing 1000 and no incoming", got)
	}
	if got := loads[1]; !got.HasIncoming || got.HasOutgoing || !almostEqual(got.Incoming, 1000) {
		t.Errorf("loads[1] = %+v, want incoming 1000 and no outgoing", got)
	}
}

func TestPropagateConservesFlow(t *testing.T) {
	snap := wordcountSnapshot(t)
	engine := NewEngine(logger.NewDefault("arrival-test"))

	rates, err := engine.Propagate(snap, wordcountSources(1000), counterRouting(), splitterCoefficients(3))
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	// A shuffle neither creates nor drops records.
	splitterIn := 0.0
	for _, task := range []int{2, 3} {
		v, _ := rates.ArrivalTotal(task)
		splitterIn += v
	}
	if !almostEqual(splitterIn, 1000) {
		t.Errorf("splitter arrivals sum to %v, want the full source rate 1000", splitterIn)
	}

	// Per-task key partitioned probabilities sum to one, so the counters
	// together receive everything the splitters emit.
	counterIn := 0.0
	for _, task := range []int{4, 5} {
		v, _ := rates.ArrivalTotal(task)
		counterIn += v
	}
	if !almostEqual(counterIn, 3000) {
		t.Errorf("counter arrivals sum to %v, want the full splitter output 3000", counterIn)
	}
}

func TestPropagateClampsNegativeOutputs(t *testing.T) {
	snap := wordcountSnapshot(t)
	engine := NewEngine(logger.NewDefault("arrival-test"))

	rates, err := engine.Propagate(snap, wordcountSources(1000), counterRouting(), splitterCoefficients(-1))
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	for _, task := range []int{2, 3} {
		if got, ok := rates.Output(task, "words"); !ok || got != 0 {
			t.Errorf("Output(%d, words) = %v (ok=%v), want a clamped 0", task, got, ok)
		}
	}
	// Nothing flows downstream of a silenced stream.
	for _, task := range []int{4, 5} {
		if _, ok := rates.ArrivalTotal(task); ok {
			t.Errorf("expected no arrivals at counter task %d", task)
		}
	}
}

func TestPropagateMissingCoefficient(t *testing.T) {
	snap := wordcountSnapshot(t)
	engine := NewEngine(logger.NewDefault("arrival-test"))

	rates, err := engine.Propagate(snap, wordcountSources(1000), counterRouting(), nil)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	// The splitters still report their output streams, at rate zero.
	for _, task := range []int{2, 3} {
		if got, ok := rates.Output(task, "words"); !ok || got != 0 {
			t.Errorf("Output(%d, words) = %v (ok=%v), want a present 0", task, got, ok)
		}
	}
	for _, task := range []int{4, 5} {
		if _, ok := rates.ArrivalTotal(task); ok {
			t.Errorf("expected no arrivals at counter task %d", task)
		}
	}
}

func TestPropagateMissingProbability(t *testing.T) {
	snap := wordcountSnapshot(t)
	engine := NewEngine(logger.NewDefault("arrival-test"))

	rates, err := engine.Propagate(snap, wordcountSources(1000), nil, splitterCoefficients(3))
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	// Structural probabilities still drive the shuffle into the splitters.
	for _, task := range []int{2, 3} {
		if got, ok := rates.Output(task, "words"); !ok || !almostEqual(got, 1500) {
			t.Errorf("Output(%d, words) = %v (ok=%v), want 1500", task, got, ok)
		}
	}
	// The key partitioned hop has no estimate, so it contributes nothing.
	for _, task := range []int{4, 5} {
		if _, ok := rates.ArrivalTotal(task); ok {
			t.Errorf("expected no arrivals at counter task %d", task)
		}
	}
}

func TestPropagateCycleRejected(t *testing.T) {
	snap := cyclicSnapshot(t)
	engine := NewEngine(logger.NewDefault("arrival-test"))

	_, err := engine.Propagate(snap, SourceRates{1: {"start": 10}}, nil, nil)
	if !errors.HasCode(err, errors.ErrCodeUnsupportedTopology) {
		t.Fatalf("expected unsupported topology for a cyclic plan, got %v", err)
	}
}

func TestPropagateScalesLinearly(t *testing.T) {
	snap := wordcountSnapshot(t)
	engine := NewEngine(logger.NewDefault("arrival-test"))

	base, err := engine.Propagate(snap, wordcountSources(1000), counterRouting(), splitterCoefficients(3))
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	doubled, err := engine.Propagate(snap, wordcountSources(2000), counterRouting(), splitterCoefficients(3))
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}

	baseEntries, doubledEntries := base.Entries(), doubled.Entries()
	if len(baseEntries) != len(doubledEntries) {
		t.Fatalf("entry counts diverged: %d vs %d", len(baseEntries), len(doubledEntries))
	}
	for i, entry := range baseEntries {
		got := doubledEntries[i]
		if got.Task != entry.Task || got.Stream != entry.Stream || got.Upstream != entry.Upstream {
			t.Fatalf("entry %d keys diverged: %+v vs %+v", i, entry, got)
		}
		if !almostEqual(got.Rate, 2*entry.Rate) {
			t.Errorf("entry %d rate = %v, want %v", i, got.Rate, 2*entry.Rate)
		}
	}
}
