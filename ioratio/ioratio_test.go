package ioratio

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/graph"
	"github.com/kbukum/streamsight/lock"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/telemetry"
	"github.com/kbukum/streamsight/topology"
)

var testWindow = telemetry.Window{
	Start: time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
	End:   time.Date(2023, 6, 1, 13, 0, 0, 0, time.UTC),
}

// joinSnapshot wires orders + payments -> joiner -> sink. The joiner is the
// only operator with both inputs and outputs; it also declares an audit
// stream nothing subscribes to.
func joinSnapshot(t *testing.T) *graph.Snapshot {
	t.Helper()
	lp := &topology.LogicalPlan{
		Sources: map[string]topology.SourceSpec{
			"orders":   {Outputs: []topology.OutputStream{{Stream: "orders"}}},
			"payments": {Outputs: []topology.OutputStream{{Stream: "payments"}}},
		},
		Processors: map[string]topology.ProcessorSpec{
			"joiner": {
				Inputs: []topology.InputStream{
					{Upstream: "orders", Stream: "orders", Partitioning: topology.PartitionShuffle},
					{Upstream: "payments", Stream: "payments", Partitioning: topology.PartitionShuffle},
				},
				Outputs: []topology.OutputStream{{Stream: "matches"}, {Stream: "audit"}},
			},
			"sink": {
				Inputs: []topology.InputStream{
					{Upstream: "joiner", Stream: "matches", Partitioning: topology.PartitionShuffle},
				},
			},
		},
	}
	pp := &topology.PhysicalPlan{
		StreamManagers: map[string]topology.StreamManager{
			"stmgr-1": {
				ID: "stmgr-1", Host: "host-a", Port: 8080,
				Instances: []string{"container_1_orders_1", "container_1_payments_2"},
			},
			"stmgr-2": {
				ID: "stmgr-2", Host: "host-b", Port: 8080,
				Instances: []string{"container_2_joiner_3", "container_2_sink_4"},
			},
		},
		Operators: map[string][]string{
			"orders":   {"container_1_orders_1"},
			"payments": {"container_1_payments_2"},
			"joiner":   {"container_2_joiner_3"},
			"sink":     {"container_2_sink_4"},
		},
	}
	return buildSnapshot(t, "checkout", lp, pp)
}

// twoLevelSnapshot wires reader -> counter with no intermediate operator.
func twoLevelSnapshot(t *testing.T) *graph.Snapshot {
	t.Helper()
	lp := &topology.LogicalPlan{
		Sources: map[string]topology.SourceSpec{
			"reader": {Outputs: []topology.OutputStream{{Stream: "lines"}}},
		},
		Processors: map[string]topology.ProcessorSpec{
			"counter": {
				Inputs: []topology.InputStream{
					{Upstream: "reader", Stream: "lines", Partitioning: topology.PartitionShuffle},
				},
			},
		},
	}
	pp := &topology.PhysicalPlan{
		StreamManagers: map[string]topology.StreamManager{
			"stmgr-1": {
				ID: "stmgr-1", Host: "host-a", Port: 8080,
				Instances: []string{"container_1_reader_1", "container_1_counter_2"},
			},
		},
		Operators: map[string][]string{
			"reader":  {"container_1_reader_1"},
			"counter": {"container_1_counter_2"},
		},
	}
	return buildSnapshot(t, "linecount", lp, pp)
}

func buildSnapshot(t *testing.T, topo string, lp *topology.LogicalPlan, pp *topology.PhysicalPlan) *graph.Snapshot {
	t.Helper()
	b := graph.NewBuilder(graph.NewStore(), nil, lock.NewLocal(), logger.NewDefault("ioratio-test"))
	ref := graph.NewReference(testWindow.Start)
	snap, err := b.BuildSnapshot(context.Background(), topo, ref, lp, pp)
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	return snap
}

type fakeMetrics struct {
	telemetry.Client
	emits []telemetry.Row
	execs []telemetry.Row
	calls int
}

func (f *fakeMetrics) Backend() string { return "fake" }

func (f *fakeMetrics) EmitCounts(ctx context.Context, cluster, environ, topo string, w telemetry.Window) ([]telemetry.Row, error) {
	f.calls++
	return f.emits, nil
}

func (f *fakeMetrics) ExecuteCounts(ctx context.Context, cluster, environ, topo string, w telemetry.Window) ([]telemetry.Row, error) {
	f.calls++
	return f.execs, nil
}

func newTestEstimator(t *testing.T, metrics telemetry.Client) *Estimator {
	t.Helper()
	est, err := NewEstimator(Config{BucketLength: "2m"}, metrics, logger.NewDefault("ioratio-test"))
	if err != nil {
		t.Fatalf("NewEstimator: %v", err)
	}
	return est
}

// joinerCounts generates exact counts for matches = 2*orders + 3*payments
// over the given per-bucket input volumes, plus rows that must be ignored:
// source emissions and sink executions.
func joinerCounts(orders, payments []float64, attributed bool) (emits, execs []telemetry.Row) {
	for i := range orders {
		ts := testWindow.Start.Add(time.Duration(i) * 2 * time.Minute)
		matches := 2*orders[i] + 3*payments[i]
		emits = append(emits,
			telemetry.Row{Timestamp: ts, Operator: "joiner", Task: 3, Container: 2, Stream: "matches", Value: matches},
			telemetry.Row{Timestamp: ts, Operator: "orders", Task: 1, Container: 1, Stream: "orders", Value: orders[i]},
		)
		ordersRow := telemetry.Row{Timestamp: ts, Operator: "joiner", Task: 3, Container: 2, Stream: "orders", Value: orders[i]}
		paymentsRow := telemetry.Row{Timestamp: ts, Operator: "joiner", Task: 3, Container: 2, Stream: "payments", Value: payments[i]}
		if attributed {
			ordersRow.Source = "orders"
			paymentsRow.Source = "payments"
		}
		execs = append(execs,
			ordersRow,
			paymentsRow,
			telemetry.Row{Timestamp: ts, Operator: "sink", Task: 4, Container: 2, Stream: "matches", Source: "joiner", Value: matches},
		)
	}
	return emits, execs
}

// --- Estimate tests ---

func TestEstimateRecoversCoefficients(t *testing.T) {
	snap := joinSnapshot(t)
	emits, execs := joinerCounts(
		[]float64{100, 80, 60, 120},
		[]float64{50, 70, 90, 30},
		true,
	)
	metrics := &fakeMetrics{emits: emits, execs: execs}
	est := newTestEstimator(t, metrics)

	set, err := est.Estimate(context.Background(), snap, "cluster-a", "prod", testWindow)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 coefficients, got %d", set.Len())
	}

	got, ok := set.Coefficient(3, "matches", "orders", "orders")
	if !ok || math.Abs(got-2) > 1e-6 {
		t.Errorf("orders coefficient = %v (ok=%v), want 2", got, ok)
	}
	got, ok = set.Coefficient(3, "matches", "payments", "payments")
	if !ok || math.Abs(got-3) > 1e-6 {
		t.Errorf("payments coefficient = %v (ok=%v), want 3", got, ok)
	}
	if _, ok := set.Coefficient(3, "matches", "refunds", "orders"); ok {
		t.Error("expected a miss for an input stream that was never fitted")
	}
	if _, ok := set.Coefficient(4, "matches", "orders", "orders"); ok {
		t.Error("expected a miss for a task that was never fitted")
	}
}

func TestEstimateIgnoresRowsOutsideWindow(t *testing.T) {
	snap := joinSnapshot(t)
	emits, execs := joinerCounts(
		[]float64{100, 80, 60, 120},
		[]float64{50, 70, 90, 30},
		true,
	)
	// An over-returning backend hands back rows at and past the window
	// end; counting them would mint phantom buckets and skew the fit.
	for _, ts := range []time.Time{testWindow.End, testWindow.End.Add(2 * time.Minute)} {
		emits = append(emits,
			telemetry.Row{Timestamp: ts, Operator: "joiner", Task: 3, Container: 2, Stream: "matches", Value: 10000})
		execs = append(execs,
			telemetry.Row{Timestamp: ts, Operator: "joiner", Task: 3, Container: 2, Stream: "orders", Source: "orders", Value: 1},
			telemetry.Row{Timestamp: ts, Operator: "joiner", Task: 3, Container: 2, Stream: "payments", Source: "payments", Value: 1})
	}
	metrics := &fakeMetrics{emits: emits, execs: execs}
	est := newTestEstimator(t, metrics)

	set, err := est.Estimate(context.Background(), snap, "cluster-a", "prod", testWindow)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	got, ok := set.Coefficient(3, "matches", "orders", "orders")
	if !ok || math.Abs(got-2) > 1e-6 {
		t.Errorf("orders coefficient = %v (ok=%v), want exactly 2", got, ok)
	}
	got, ok = set.Coefficient(3, "matches", "payments", "payments")
	if !ok || math.Abs(got-3) > 1e-6 {
		t.Errorf("payments coefficient = %v (ok=%v), want exactly 3", got, ok)
	}
}

func TestEstimateResolvesUnattributedExecutes(t *testing.T) {
	snap := joinSnapshot(t)
	emits, execs := joinerCounts(
		[]float64{100, 80, 60, 120},
		[]float64{50, 70, 90, 30},
		false,
	)
	metrics := &fakeMetrics{emits: emits, execs: execs}
	est := newTestEstimator(t, metrics)

	set, err := est.Estimate(context.Background(), snap, "cluster-a", "prod", testWindow)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	got, ok := set.Coefficient(3, "matches", "orders", "orders")
	if !ok || math.Abs(got-2) > 1e-6 {
		t.Errorf("orders coefficient = %v (ok=%v), want 2", got, ok)
	}
	got, ok = set.Coefficient(3, "matches", "payments", "payments")
	if !ok || math.Abs(got-3) > 1e-6 {
		t.Errorf("payments coefficient = %v (ok=%v), want 3", got, ok)
	}
}

func TestEstimateIllDetermined(t *testing.T) {
	snap := joinSnapshot(t)
	// Two buckets cannot determine two input columns.
	emits, execs := joinerCounts([]float64{100, 80}, []float64{50, 70}, true)
	metrics := &fakeMetrics{emits: emits, execs: execs}
	est := newTestEstimator(t, metrics)

	_, err := est.Estimate(context.Background(), snap, "cluster-a", "prod", testWindow)
	if !errors.HasCode(err, errors.ErrCodeIllDetermined) {
		t.Fatalf("expected ill determined error, got %v", err)
	}
}

func TestEstimateSkipsStreamWithoutEmissions(t *testing.T) {
	snap := joinSnapshot(t)
	emits, execs := joinerCounts(
		[]float64{100, 80, 60, 120},
		[]float64{50, 70, 90, 30},
		true,
	)
	// The audit stream is emitted on the metrics interval like any other
	// stream but never carries records.
	for i := 0; i < 4; i++ {
		ts := testWindow.Start.Add(time.Duration(i) * 2 * time.Minute)
		emits = append(emits, telemetry.Row{Timestamp: ts, Operator: "joiner", Task: 3, Container: 2, Stream: "audit", Value: 0})
	}
	metrics := &fakeMetrics{emits: emits, execs: execs}
	est := newTestEstimator(t, metrics)

	set, err := est.Estimate(context.Background(), snap, "cluster-a", "prod", testWindow)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 coefficients, got %d", set.Len())
	}
	if _, ok := set.Coefficient(3, "audit", "orders", "orders"); ok {
		t.Error("expected no coefficient for a stream with zero emissions")
	}
}

func TestEstimateNoInOutOperators(t *testing.T) {
	snap := twoLevelSnapshot(t)
	metrics := &fakeMetrics{}
	est := newTestEstimator(t, metrics)

	set, err := est.Estimate(context.Background(), snap, "cluster-a", "prod", testWindow)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("expected an empty coefficient set, got %d entries", set.Len())
	}
	if metrics.calls != 0 {
		t.Errorf("expected no telemetry queries, got %d", metrics.calls)
	}
}

func TestEstimateInvalidWindow(t *testing.T) {
	snap := joinSnapshot(t)
	est := newTestEstimator(t, &fakeMetrics{})

	inverted := telemetry.Window{Start: testWindow.End, End: testWindow.Start}
	if _, err := est.Estimate(context.Background(), snap, "cluster-a", "prod", inverted); err == nil {
		t.Fatal("expected an error for an inverted window")
	}
}

// --- Config tests ---

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}, wantErr: false},
		{name: "explicit", cfg: Config{BucketLength: "30s"}, wantErr: false},
		{name: "unparseable", cfg: Config{BucketLength: "fortnight"}, wantErr: true},
		{name: "negative", cfg: Config{BucketLength: "-2m"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults()
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
