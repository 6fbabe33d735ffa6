package paths

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/graph"
	"github.com/kbukum/streamsight/lock"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/topology"
)

var snapTime = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

func newAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(Config{}, logger.NewDefault("paths-test"))
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	return a
}

func buildSnapshot(t *testing.T, topo string, lp *topology.LogicalPlan, pp *topology.PhysicalPlan) *graph.Snapshot {
	t.Helper()
	b := graph.NewBuilder(graph.NewStore(), nil, lock.NewLocal(), logger.NewDefault("paths-test"))
	snap, err := b.BuildSnapshot(context.Background(), topo, graph.NewReference(snapTime), lp, pp)
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	return snap
}

// wordcountSnapshot wires reader -> splitter -> counter with two splitter
// and two counter instances.
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

// diamondSnapshot forks the reader into two branches that join again, so a
// source and sink pair is connected by more than one operator path.
func diamondSnapshot(t *testing.T) *graph.Snapshot {
	t.Helper()
	lp := &topology.LogicalPlan{
		Sources: map[string]topology.SourceSpec{
			"reader": {Outputs: []topology.OutputStream{{Stream: "lines"}}},
		},
		Processors: map[string]topology.ProcessorSpec{
			"alpha": {
				Inputs:  []topology.InputStream{{Upstream: "reader", Stream: "lines", Partitioning: topology.PartitionShuffle}},
				Outputs: []topology.OutputStream{{Stream: "left"}},
			},
			"beta": {
				Inputs:  []topology.InputStream{{Upstream: "reader", Stream: "lines", Partitioning: topology.PartitionShuffle}},
				Outputs: []topology.OutputStream{{Stream: "right"}},
			},
			"merger": {
				Inputs: []topology.InputStream{
					{Upstream: "alpha", Stream: "left", Partitioning: topology.PartitionShuffle},
					{Upstream: "beta", Stream: "right", Partitioning: topology.PartitionShuffle},
				},
			},
		},
	}
	pp := &topology.PhysicalPlan{
		StreamManagers: map[string]topology.StreamManager{
			"stmgr-1": {
				ID: "stmgr-1", Host: "host-a", Port: 8080,
				Instances: []string{
					"container_1_reader_1", "container_1_alpha_2",
					"container_1_beta_3", "container_1_merger_4",
				},
			},
		},
		Operators: map[string][]string{
			"reader": {"container_1_reader_1"},
			"alpha":  {"container_1_alpha_2"},
			"beta":   {"container_1_beta_3"},
			"merger": {"container_1_merger_4"},
		},
	}
	return buildSnapshot(t, "diamond", lp, pp)
}

// joinSnapshot feeds one sink from two independent sources.
func joinSnapshot(t *testing.T) *graph.Snapshot {
	t.Helper()
	lp := &topology.LogicalPlan{
		Sources: map[string]topology.SourceSpec{
			"east": {Outputs: []topology.OutputStream{{Stream: "orders"}}},
			"west": {Outputs: []topology.OutputStream{{Stream: "refunds"}}},
		},
		Processors: map[string]topology.ProcessorSpec{
			"joiner": {
				Inputs: []topology.InputStream{
					{Upstream: "east", Stream: "orders", Partitioning: topology.PartitionShuffle},
					{Upstream: "west", Stream: "refunds", Partitioning: topology.PartitionShuffle},
				},
			},
		},
	}
	pp := &topology.PhysicalPlan{
		StreamManagers: map[string]topology.StreamManager{
			"stmgr-1": {
				ID: "stmgr-1", Host: "host-a", Port: 8080,
				Instances: []string{"container_1_east_1", "container_1_west_2", "container_1_joiner_3"},
			},
		},
		Operators: map[string][]string{
			"east":   {"container_1_east_1"},
			"west":   {"container_1_west_2"},
			"joiner": {"container_1_joiner_3"},
		},
	}
	return buildSnapshot(t, "join", lp, pp)
}

// beaconSnapshot declares a source whose stream nothing consumes, making the
// operator both a source and a sink.
func beaconSnapshot(t *testing.T) *graph.Snapshot {
	t.Helper()
	lp := &topology.LogicalPlan{
		Sources: map[string]topology.SourceSpec{
			"beacon": {Outputs: []topology.OutputStream{{Stream: "pulse"}}},
		},
		Processors: map[string]topology.ProcessorSpec{},
	}
	pp := &topology.PhysicalPlan{
		StreamManagers: map[string]topology.StreamManager{
			"stmgr-1": {
				ID: "stmgr-1", Host: "host-a", Port: 8080,
				Instances: []string{"container_1_beacon_1"},
			},
		},
		Operators: map[string][]string{
			"beacon": {"container_1_beacon_1"},
		},
	}
	return buildSnapshot(t, "beacon", lp, pp)
}

// cyclicSnapshot closes a loop between two processors, leaving the topology
// without any sink.
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

func assertRoute(t *testing.T, got Route, operators string, tasks ...int) {
	t.Helper()
	if got.Operators != operators {
		t.Errorf("route operators = %q, want %q", got.Operators, operators)
	}
	if len(got.Tasks) != len(tasks) {
		t.Fatalf("route tasks = %v, want %v", got.Tasks, tasks)
	}
	for i := range tasks {
		if got.Tasks[i] != tasks[i] {
			t.Fatalf("route tasks = %v, want %v", got.Tasks, tasks)
		}
	}
}

// --- Routes tests ---

func TestRoutesWordcount(t *testing.T) {
	a := newAnalyzer(t)
	snap := wordcountSnapshot(t)

	routes, err := a.Routes(context.Background(), snap)
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}
	if len(routes) != 4 {
		t.Fatalf("got %d routes, want 4", len(routes))
	}
	assertRoute(t, routes[0], "reader->splitter->counter", 1, 2, 4)
	assertRoute(t, routes[1], "reader->splitter->counter", 1, 2, 5)
	assertRoute(t, routes[2], "reader->splitter->counter", 1, 3, 4)
	assertRoute(t, routes[3], "reader->splitter->counter", 1, 3, 5)
}

func TestRoutesDiamondPicksOneBranch(t *testing.T) {
	a := newAnalyzer(t)
	snap := diamondSnapshot(t)

	routes, err := a.Routes(context.Background(), snap)
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}
	if len(routes) != 1 {
		t.Fatalf("got %d routes, want 1 representative per source and sink pair", len(routes))
	}
	assertRoute(t, routes[0], "reader->alpha->merger", 1, 2, 4)
}

func TestRoutesMergesSourcesInOrder(t *testing.T) {
	a := newAnalyzer(t)
	snap := joinSnapshot(t)

	routes, err := a.Routes(context.Background(), snap)
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(routes))
	}
	assertRoute(t, routes[0], "east->joiner", 1, 3)
	assertRoute(t, routes[1], "west->joiner", 2, 3)
}

func TestRoutesUnconsumedSource(t *testing.T) {
	a := newAnalyzer(t)
	snap := beaconSnapshot(t)

	routes, err := a.Routes(context.Background(), snap)
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}
	if len(routes) != 1 {
		t.Fatalf("got %d routes, want 1", len(routes))
	}
	assertRoute(t, routes[0], "beacon", 1)
}

func TestRoutesCycleUnsupported(t *testing.T) {
	a := newAnalyzer(t)
	snap := cyclicSnapshot(t)

	_, err := a.Routes(context.Background(), snap)
	if !errors.HasCode(err, errors.ErrCodeUnsupportedTopology) {
		t.Fatalf("expected unsupported topology error, got %v", err)
	}
}

func TestRoutesMemoized(t *testing.T) {
	a := newAnalyzer(t)
	snap := wordcountSnapshot(t)

	first, err := a.Routes(context.Background(), snap)
	if err != nil {
		t.Fatalf("first Routes: %v", err)
	}
	second, err := a.Routes(context.Background(), snap)
	if err != nil {
		t.Fatalf("second Routes: %v", err)
	}
	if &first[0] != &second[0] {
		t.Error("second call did not return the cached routes")
	}

	a.InvalidateTopology(snap.Topology)
	third, err := a.Routes(context.Background(), snap)
	if err != nil {
		t.Fatalf("Routes after invalidation: %v", err)
	}
	if len(third) != len(first) {
		t.Errorf("got %d routes after invalidation, want %d", len(third), len(first))
	}
}

// --- Latencies tests ---

func TestLatenciesSumServiceAndWaiting(t *testing.T) {
	a := newAnalyzer(t)
	snap := wordcountSnapshot(t)

	service := map[int]float64{2: 10, 3: 10, 4: 20, 5: 40}
	waiting := map[int]float64{2: 5, 3: 5, 4: 10, 5: 10}

	latencies, err := a.Latencies(context.Background(), snap, service, waiting)
	if err != nil {
		t.Fatalf("Latencies: %v", err)
	}
	if len(latencies) != 4 {
		t.Fatalf("got %d latencies, want 4", len(latencies))
	}
	// The reader task has no measurements, so it adds nothing.
	want := []float64{45, 65, 45, 65}
	for i, lat := range latencies {
		if math.Abs(lat.LatencyMS-want[i]) > 1e-9 {
			t.Errorf("latency of %q %v = %v ms, want %v", lat.Operators, lat.Tasks, lat.LatencyMS, want[i])
		}
	}
}

func TestLatenciesEmptyStats(t *testing.T) {
	a := newAnalyzer(t)
	snap := wordcountSnapshot(t)

	latencies, err := a.Latencies(context.Background(), snap, nil, nil)
	if err != nil {
		t.Fatalf("Latencies: %v", err)
	}
	for _, lat := range latencies {
		if lat.LatencyMS != 0 {
			t.Errorf("latency of %v = %v ms, want 0", lat.Tasks, lat.LatencyMS)
		}
	}
}

// --- configuration tests ---

func TestNewAnalyzerRejectsNegativeWorkers(t *testing.T) {
	_, err := NewAnalyzer(Config{Workers: -1}, logger.NewDefault("paths-test"))
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}
