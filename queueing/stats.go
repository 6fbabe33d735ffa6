package queueing

import (
	"math"
	"sort"

	"github.com/kbukum/streamsight/telemetry"
)

// ServiceStats summarizes the measured service times of one instance,
// in milliseconds per record.
type ServiceStats struct {
	Task   int     `json:"task"`
	Mean   float64 `json:"mean_ms"`
	Std    float64 `json:"std_ms"`
	Median float64 `json:"median_ms"`
}

// Rate returns the mean service rate in records per second. Zero when the
// instance has no usable measurement.
func (s ServiceStats) Rate() float64 {
	if s.Mean <= 0 {
		return 0
	}
	return 1000 / s.Mean
}

// ArrivalStats summarizes the arrival process at one instance: the mean
// rate in records per second plus the mean and spread of the gaps between
// consecutive records, in milliseconds.
type ArrivalStats struct {
	Task             int     `json:"task"`
	Rate             float64 `json:"rate"`
	MeanInterArrival float64 `json:"mean_inter_arrival_ms"`
	StdInterArrival  float64 `json:"std_inter_arrival_ms"`
}

// ServiceStatsOf groups service time rows by task, folding every incoming
// stream of an instance into one distribution.
func ServiceStatsOf(rows []telemetry.Row) []ServiceStats {
	byTask := make(map[int][]float64)
	for _, row := range rows {
		byTask[row.Task] = append(byTask[row.Task], row.Value)
	}

	out := make([]ServiceStats, 0, len(byTask))
	for task, values := range byTask {
		out = append(out, ServiceStats{
			Task:   task,
			Mean:   mean(values),
			Std:    sampleStd(values),
			Median: median(values),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out
}

// ArrivalStatsOf summarizes per-interval arrival rate rows. The mean rate
// averages every interval, idle ones included; the inter-arrival gap of an
// interval is the inverse of its rate, so idle intervals have no finite gap
// and are left out of the gap statistics.
func ArrivalStatsOf(rows []telemetry.Row) []ArrivalStats {
	byTask := make(map[int][]float64)
	for _, row := range rows {
		byTask[row.Task] = append(byTask[row.Task], row.Value)
	}

	out := make([]ArrivalStats, 0, len(byTask))
	for task, rates := range byTask {
		var gaps []float64
		for _, rate := range rates {
			if rate > 0 {
				gaps = append(gaps, 1000/rate)
			}
		}
		out = append(out, ArrivalStats{
			Task:             task,
			Rate:             mean(rates),
			MeanInterArrival: mean(gaps),
			StdInterArrival:  sampleStd(gaps),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out
}

// ArrivalStatsFromRates builds arrival statistics from propagated per-task
// rates. A hypothesized rate carries no measured spread, so the gap
// deviation is zero and the general estimator reduces to its service
// variability term.
func ArrivalStatsFromRates(rates map[int]float64) []ArrivalStats {
	out := make([]ArrivalStats, 0, len(rates))
	for task, rate := range rates {
		stats := ArrivalStats{Task: task, Rate: rate}
		if rate > 0 {
			stats.MeanInterArrival = 1000 / rate
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out
}

// NaiveQueue is the measured queue growth of one instance over a window:
// everything that arrived minus everything that was executed. It is a
// diagnostic cross-check for the predicted queue sizes and never feeds back
// into a prediction.
type NaiveQueue struct {
	Task     int     `json:"task"`
	Arrived  float64 `json:"arrived"`
	Executed float64 `json:"executed"`
	Growth   float64 `json:"growth"`
}

// NaiveQueueSizes sums per-interval arrival and execute counts by task and
// reports the difference. Tasks appearing in either input are reported.
func NaiveQueueSizes(arrivals, executes []telemetry.Row) []NaiveQueue {
	byTask := make(map[int]*NaiveQueue)
	entry := func(task int) *NaiveQueue {
		q, ok := byTask[task]
		if !ok {
			q = &NaiveQueue{Task: task}
			byTask[task] = q
		}
		return q
	}
	for _, row := range arrivals {
		entry(row.Task).Arrived += row.Value
	}
	for _, row := range executes {
		entry(row.Task).Executed += row.Value
	}

	out := make([]NaiveQueue, 0, len(byTask))
	for _, q := range byTask {
		q.Growth = q.Arrived - q.Executed
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// sampleStd is the n-1 weighted standard deviation. Fewer than two
// observations have no measurable spread.
func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	total := 0.0
	for _, v := range values {
		d := v - m
		total += d * d
	}
	return math.Sqrt(total / float64(len(values)-1))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
