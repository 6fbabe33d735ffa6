package queueing

import (
	"math"
	"testing"
	"time"

	"github.com/kbukum/streamsight/telemetry"
)

var statsTime = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

func row(task int, stream string, value float64) telemetry.Row {
	return telemetry.Row{Timestamp: statsTime, Operator: "op", Task: task, Stream: stream, Value: value}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// --- Aggregation tests ---

func TestServiceStatsOf(t *testing.T) {
	rows := []telemetry.Row{
		row(4, "words", 10),
		row(4, "words", 30),
		row(4, "counts", 20),
		row(2, "lines", 8),
	}

	stats := ServiceStatsOf(rows)
	if len(stats) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(stats))
	}

	if got := stats[0]; got.Task != 2 || !near(got.Mean, 8) || got.Std != 0 || !near(got.Median, 8) {
		t.Errorf("stats[0] = %+v, want task 2 mean 8 std 0 median 8", got)
	}
	got := stats[1]
	if got.Task != 4 || !near(got.Mean, 20) || !near(got.Std, 10) || !near(got.Median, 20) {
		t.Errorf("stats[1] = %+v, want task 4 mean 20 std 10 median 20", got)
	}
	if !near(got.Rate(), 50) {
		t.Errorf("Rate() = %v, want 50 records/s for a 20ms mean", got.Rate())
	}
}

func TestServiceStatsMedianEvenCount(t *testing.T) {
	stats := ServiceStatsOf([]telemetry.Row{
		row(1, "a", 10), row(1, "a", 20), row(1, "a", 30), row(1, "a", 40),
	})
	if len(stats) != 1 || !near(stats[0].Median, 25) {
		t.Fatalf("stats = %+v, want a single task with median 25", stats)
	}
}

func TestArrivalStatsOf(t *testing.T) {
	rows := []telemetry.Row{
		row(4, "", 50),
		row(4, "", 50),
		row(4, "", 0),
	}

	stats := ArrivalStatsOf(rows)
	if len(stats) != 1 {
		t.Fatalf("expected 1 task, got %d", len(stats))
	}
	got := stats[0]
	if !near(got.Rate, 100.0/3) {
		t.Errorf("Rate = %v, want the idle interval averaged in (100/3)", got.Rate)
	}
	// Only the two busy intervals have a finite gap.
	if !near(got.MeanInterArrival, 20) || got.StdInterArrival != 0 {
		t.Errorf("gaps = %v +/- %v, want 20 +/- 0", got.MeanInterArrival, got.StdInterArrival)
	}
}

func TestArrivalStatsFromRates(t *testing.T) {
	stats := ArrivalStatsFromRates(map[int]float64{4: 50, 7: 0})
	if len(stats) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(stats))
	}
	if got := stats[0]; got.Task != 4 || !near(got.Rate, 50) || !near(got.MeanInterArrival, 20) || got.StdInterArrival != 0 {
		t.Errorf("stats[0] = %+v, want task 4 rate 50 gap 20 spread 0", got)
	}
	if got := stats[1]; got.Task != 7 || got.Rate != 0 || got.MeanInterArrival != 0 {
		t.Errorf("stats[1] = %+v, want task 7 all zero", got)
	}
}

func TestNaiveQueueSizes(t *testing.T) {
	arrivals := []telemetry.Row{row(4, "", 100), row(4, "", 120), row(9, "", 30)}
	executes := []telemetry.Row{row(4, "", 90), row(4, "", 110)}

	sizes := NaiveQueueSizes(arrivals, executes)
	if len(sizes) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(sizes))
	}
	if got := sizes[0]; got.Task != 4 || !near(got.Arrived, 220) || !near(got.Executed, 200) || !near(got.Growth, 20) {
		t.Errorf("sizes[0] = %+v, want task 4 growth 20", got)
	}
	if got := sizes[1]; got.Task != 9 || !near(got.Growth, 30) {
		t.Errorf("sizes[1] = %+v, want task 9 growth 30", got)
	}
}
