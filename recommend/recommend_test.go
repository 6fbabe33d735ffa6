package recommend

import (
	"math"
	"testing"
	"time"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/telemetry"
	"github.com/kbukum/streamsight/topology"
)

var rowTime = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

func newRecommender(t *testing.T) *Recommender {
	t.Helper()
	r, err := New(Config{}, logger.NewDefault("recommend-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

// wordcountPlan packs reader(1), splitter(2,3) and counter(4,5) over two
// containers with uniform allocations.
func wordcountPlan() *topology.PackingPlan {
	alloc := topology.Resources{CPU: 2, RAM: 1000, Disk: 10}
	return &topology.PackingPlan{
		ContainerPlans: []topology.ContainerPlan{
			{
				ID:                1,
				RequiredResources: topology.Resources{CPU: 6, RAM: 3000, Disk: 30},
				Instances: []topology.InstancePlan{
					{ComponentName: "reader", TaskID: 1, InstanceResources: alloc},
					{ComponentName: "splitter", TaskID: 2, InstanceResources: alloc},
					{ComponentName: "counter", TaskID: 4, InstanceResources: alloc},
				},
			},
			{
				ID:                2,
				RequiredResources: topology.Resources{CPU: 4, RAM: 2000, Disk: 20},
				Instances: []topology.InstancePlan{
					{ComponentName: "splitter", TaskID: 3, InstanceResources: alloc},
					{ComponentName: "counter", TaskID: 5, InstanceResources: alloc},
				},
			},
		},
	}
}

var taskOperators = map[int]string{1: "reader", 2: "splitter", 3: "splitter", 4: "counter", 5: "counter"}

// metricRows builds one row per task with the given value.
func metricRows(values map[int]float64) []telemetry.Row {
	out := make([]telemetry.Row, 0, len(values))
	for task, value := range values {
		out = append(out, telemetry.Row{Timestamp: rowTime, Operator: taskOperators[task], Task: task, Value: value})
	}
	return out
}

// healthyCPU keeps every task far below the load threshold.
func healthyCPU() map[int]float64 {
	return map[int]float64{1: 0.07, 2: 0.07, 3: 0.07, 4: 0.07, 5: 0.07}
}

// healthyGC keeps every task far below the pause threshold.
func healthyGC() map[int]float64 {
	return map[int]float64{1: 100, 2: 100, 3: 100, 4: 100, 5: 100}
}

func serviceRates() map[int]float64 { return map[int]float64{2: 50, 3: 40, 4: 60, 5: 60} }

func arrivalRates() map[int]float64 { return map[int]float64{2: 30, 3: 30, 4: 45, 5: 45} }

func operatorChange(t *testing.T, rec *Recommendation, operator string) OperatorChange {
	t.Helper()
	for _, ch := range rec.Operators {
		if ch.Operator == operator {
			return ch
		}
	}
	t.Fatalf("no change entry for operator %q", operator)
	return OperatorChange{}
}

func instanceResources(t *testing.T, plan topology.PackingPlan, task int) topology.Resources {
	t.Helper()
	for _, container := range plan.ContainerPlans {
		for _, inst := range container.Instances {
			if inst.TaskID == task {
				return inst.InstanceResources
			}
		}
	}
	t.Fatalf("task %d not packed", task)
	return topology.Resources{}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// --- resource pass tests ---

func TestRecommendScalesCPU(t *testing.T) {
	r := newRecommender(t)

	// Two rows for task 2 average to 1.4, twice the 0.7 threshold.
	cpuValues := healthyCPU()
	delete(cpuValues, 2)
	cpu := append(metricRows(cpuValues),
		telemetry.Row{Timestamp: rowTime, Operator: "splitter", Task: 2, Value: 1.5},
		telemetry.Row{Timestamp: rowTime.Add(time.Minute), Operator: "splitter", Task: 2, Value: 1.3},
	)
	gc := metricRows(healthyGC())

	rec, err := r.Recommend(wordcountPlan(), cpu, gc, serviceRates(), arrivalRates())
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	// Both splitter instances scale, not just the hot one.
	for _, task := range []int{2, 3} {
		if got := instanceResources(t, rec.Plan, task).CPU; !near(got, 4) {
			t.Errorf("task %d CPU = %v, want 4", task, got)
		}
		if got := instanceResources(t, rec.Plan, task).RAM; got != 1000 {
			t.Errorf("task %d RAM = %v, want 1000", task, got)
		}
	}
	if got := instanceResources(t, rec.Plan, 4).CPU; !near(got, 2) {
		t.Errorf("counter CPU = %v, want 2 untouched", got)
	}

	ch := operatorChange(t, rec, "splitter")
	if !near(ch.LoadRatio, 2.0) {
		t.Errorf("splitter load ratio = %v, want 2.0", ch.LoadRatio)
	}
	if !near(ch.CPU, 4) {
		t.Errorf("splitter summarized CPU = %v, want 4", ch.CPU)
	}

	// Only the CPU raise applies to the expected rates.
	if got := rec.AdjustedRates[2]; !near(got, 100) {
		t.Errorf("task 2 adjusted rate = %v, want 100", got)
	}
	if got := rec.AdjustedRates[3]; !near(got, 80) {
		t.Errorf("task 3 adjusted rate = %v, want 80", got)
	}
	if got := rec.AdjustedRates[4]; !near(got, 60) {
		t.Errorf("task 4 adjusted rate = %v, want 60 untouched", got)
	}
}

func TestRecommendScalesRAM(t *testing.T) {
	r := newRecommender(t)

	gcValues := healthyGC()
	gcValues[4] = 1250 // 2.5 times the 500ms threshold
	rec, err := r.Recommend(wordcountPlan(), metricRows(healthyCPU()), metricRows(gcValues), serviceRates(), arrivalRates())
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	// The component scales as a whole even though only task 4 is hot.
	for _, task := range []int{4, 5} {
		res := instanceResources(t, rec.Plan, task)
		if res.RAM != 2500 {
			t.Errorf("task %d RAM = %v, want 2500", task, res.RAM)
		}
		if !near(res.CPU, 2) {
			t.Errorf("task %d CPU = %v, want 2 untouched", task, res.CPU)
		}
	}
	for _, task := range []int{4, 5} {
		if got := rec.AdjustedRates[task]; !near(got, 150) {
			t.Errorf("task %d adjusted rate = %v, want 150", task, got)
		}
	}
}

func TestRecommendBothScaledUsesSmallerRaise(t *testing.T) {
	r := newRecommender(t)

	cpuValues := healthyCPU()
	cpuValues[4] = 2.1 // ratio 3
	gcValues := healthyGC()
	gcValues[4] = 1000 // ratio 2

	rec, err := r.Recommend(wordcountPlan(), metricRows(cpuValues), metricRows(gcValues), serviceRates(), arrivalRates())
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	res := instanceResources(t, rec.Plan, 4)
	if !near(res.CPU, 6) || res.RAM != 2000 {
		t.Errorf("counter resources = %+v, want CPU 6 and RAM 2000", res)
	}
	// The smaller raise bounds the expected speedup.
	if got := rec.AdjustedRates[4]; !near(got, 120) {
		t.Errorf("task 4 adjusted rate = %v, want 120", got)
	}
}

func TestRecommendRequiresBothMetrics(t *testing.T) {
	r := newRecommender(t)

	// Task 2 is far over the CPU threshold but has no GC measurement, so
	// it cannot enter the pressure table.
	cpuValues := healthyCPU()
	cpuValues[2] = 1.4
	gcValues := healthyGC()
	delete(gcValues, 2)

	rec, err := r.Recommend(wordcountPlan(), metricRows(cpuValues), metricRows(gcValues), serviceRates(), arrivalRates())
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if got := instanceResources(t, rec.Plan, 2).CPU; !near(got, 2) {
		t.Errorf("task 2 CPU = %v, want 2 untouched", got)
	}
	if got := rec.AdjustedRates[2]; !near(got, 50) {
		t.Errorf("task 2 adjusted rate = %v, want the prior 50", got)
	}
}

// --- parallelism pass tests ---

func TestRecommendRaisesParallelism(t *testing.T) {
	r := newRecommender(t)

	arrivals := map[int]float64{2: 30, 3: 30, 4: 100, 5: 100}
	rec, err := r.Recommend(wordcountPlan(), metricRows(healthyCPU()), metricRows(healthyGC()), serviceRates(), arrivals)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	// 200 records/s over instances serving 60/s each.
	if got := operatorChange(t, rec, "counter").Parallelism; got != 4 {
		t.Errorf("counter parallelism = %d, want 4", got)
	}
	if got := operatorChange(t, rec, "splitter").Parallelism; got != 2 {
		t.Errorf("splitter parallelism = %d, want 2 unchanged", got)
	}
	// The container document itself still packs two counter instances.
	if got := rec.Plan.Parallelism()["counter"]; got != 2 {
		t.Errorf("packed counter instances = %d, want 2", got)
	}
}

func TestRecommendSkipsSources(t *testing.T) {
	r := newRecommender(t)

	rec, err := r.Recommend(wordcountPlan(), metricRows(healthyCPU()), metricRows(healthyGC()), serviceRates(), arrivalRates())
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	// The reader receives nothing and has no service rate.
	if got := operatorChange(t, rec, "reader").Parallelism; got != 1 {
		t.Errorf("reader parallelism = %d, want 1", got)
	}
	if _, ok := rec.AdjustedRates[1]; ok {
		t.Error("reader must not gain an adjusted rate")
	}
}

func TestRecommendNeverDecreases(t *testing.T) {
	r := newRecommender(t)

	rec, err := r.Recommend(wordcountPlan(), metricRows(healthyCPU()), metricRows(healthyGC()), serviceRates(), arrivalRates())
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	for _, task := range []int{1, 2, 3, 4, 5} {
		res := instanceResources(t, rec.Plan, task)
		if !near(res.CPU, 2) || res.RAM != 1000 || res.Disk != 10 {
			t.Errorf("task %d resources = %+v, want the original allocation", task, res)
		}
	}
	for task, prior := range serviceRates() {
		if got := rec.AdjustedRates[task]; !near(got, prior) {
			t.Errorf("task %d adjusted rate = %v, want the prior %v", task, got, prior)
		}
	}
	for _, ch := range rec.Operators {
		if ch.Parallelism != len(ch.Tasks) {
			t.Errorf("operator %q parallelism = %d, want %d", ch.Operator, ch.Parallelism, len(ch.Tasks))
		}
	}
}

// --- validation tests ---

func TestRecommendRejectsInvalidPlan(t *testing.T) {
	r := newRecommender(t)

	_, err := r.Recommend(&topology.PackingPlan{}, nil, nil, nil, nil)
	if !errors.HasCode(err, errors.ErrCodeInvalidPlan) {
		t.Fatalf("expected invalid plan error, got %v", err)
	}

	_, err = r.Recommend(nil, nil, nil, nil, nil)
	if !errors.HasCode(err, errors.ErrCodeMissingField) {
		t.Fatalf("expected missing field error, got %v", err)
	}
}

func TestNewRejectsBadThresholds(t *testing.T) {
	_, err := New(Config{CPULoadThreshold: -1}, logger.NewDefault("recommend-test"))
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}
