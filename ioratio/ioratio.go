package ioratio

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/graph"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/telemetry"
)

// Key identifies one fitted coefficient: the contribution of records
// arriving on Input from Upstream to the records task Task emits on Output.
type Key struct {
	Task     int    `json:"task"`
	Output   string `json:"output_stream"`
	Input    string `json:"input_stream"`
	Upstream string `json:"upstream"`
}

// CoefficientSet holds the coefficients fitted for one topology and window.
// A combination that was never fitted is reported as absent rather than
// zero, so callers can tell "no relationship known" apart from "fitted to
// zero".
type CoefficientSet struct {
	coefficients map[Key]float64
}

// NewCoefficientSet builds a set from explicit entries. The estimator is
// the usual source; this constructor serves callers replaying recorded or
// synthetic coefficients.
func NewCoefficientSet(coefficients map[Key]float64) *CoefficientSet {
	set := &CoefficientSet{coefficients: make(map[Key]float64, len(coefficients))}
	for k, v := range coefficients {
		set.coefficients[k] = v
	}
	return set
}

// Coefficient returns the fitted coefficient for one combination.
func (s *CoefficientSet) Coefficient(task int, output, input, upstream string) (float64, bool) {
	v, ok := s.coefficients[Key{Task: task, Output: output, Input: input, Upstream: upstream}]
	return v, ok
}

// Len returns the number of fitted coefficients.
func (s *CoefficientSet) Len() int { return len(s.coefficients) }

// column is one independent variable of a task's regression.
type column struct {
	input    string
	upstream string
}

// Estimator fits I/O coefficients from emit and execute counts.
type Estimator struct {
	metrics telemetry.Client
	bucket  time.Duration
	log     *logger.Logger
}

// NewEstimator returns an estimator reading counts from the given telemetry
// client.
func NewEstimator(cfg Config, metrics telemetry.Client, log *logger.Logger) (*Estimator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("ioratio", err.Error()).WithCause(err)
	}
	bucket, _ := time.ParseDuration(cfg.BucketLength)
	return &Estimator{
		metrics: metrics,
		bucket:  bucket,
		log:     log.WithComponent("ioratio"),
	}, nil
}

// Estimate fits a coefficient for every (task, output stream, input stream,
// upstream operator) combination of the snapshot's in-out operators from
// counts observed over the window. Output streams with no emissions are
// skipped. A stream whose window yields no more buckets than the task has
// input columns fails the whole estimate: the fix is a shorter bucket
// length or a longer window, not a partial answer.
func (e *Estimator) Estimate(ctx context.Context, snap *graph.Snapshot, cluster, environ string, w telemetry.Window) (*CoefficientSet, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	tasks := inOutTasks(snap)
	set := &CoefficientSet{coefficients: make(map[Key]float64)}
	if len(tasks) == 0 {
		// Two level topologies have nothing to fit.
		return set, nil
	}

	log := e.log.WithTopology(cluster, environ, snap.Topology)
	log.Debug("Fitting I/O coefficients", logger.Fields(
		"tasks", len(tasks),
		"bucket", e.bucket.String(),
		"window", w.Duration().String(),
	))

	emits, err := e.metrics.EmitCounts(ctx, cluster, environ, snap.Topology, w)
	if err != nil {
		return nil, err
	}
	execs, err := e.metrics.ExecuteCounts(ctx, cluster, environ, snap.Topology, w)
	if err != nil {
		return nil, err
	}

	member := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		member[t] = true
	}
	emitted := e.bucketEmits(emits, w, member)
	received := e.bucketExecs(execs, w, member, snap, log)

	for _, task := range tasks {
		cols := taskColumns(snap, task)
		if len(cols) == 0 {
			continue
		}
		if err := e.fitTask(set, task, cols, emitted[task], received[task], log); err != nil {
			return nil, err
		}
	}

	if set.Len() == 0 {
		log.Warn("No I/O coefficients could be fitted over this window")
	}
	return set, nil
}

// fitTask solves one least squares system per output stream of the task.
// The dependent vector is the emitted count per bucket and each independent
// column is the count received on one (input stream, upstream operator)
// pair per bucket.
func (e *Estimator) fitTask(set *CoefficientSet, task int, cols []column,
	emitted map[string]map[int]float64, received map[int]map[column]float64,
	log *logger.Logger) error {

	streams := make([]string, 0, len(emitted))
	for stream := range emitted {
		streams = append(streams, stream)
	}
	sort.Strings(streams)

	for _, stream := range streams {
		// Rows of the system are the buckets holding both emit and execute
		// observations, the equivalent of an inner join on the bucket.
		var buckets []int
		total := 0.0
		for bucket, count := range emitted[stream] {
			if _, ok := received[bucket]; ok {
				buckets = append(buckets, bucket)
				total += count
			}
		}
		if total <= 0 {
			log.Debug("No emissions on stream, skipping", logger.Fields("task", task, "stream", stream))
			continue
		}
		if len(buckets) <= len(cols) {
			return errors.IllDetermined(len(buckets), len(cols))
		}
		sort.Ints(buckets)

		a := mat.NewDense(len(buckets), len(cols), nil)
		b := mat.NewVecDense(len(buckets), nil)
		for i, bucket := range buckets {
			b.SetVec(i, emitted[stream][bucket])
			for j, col := range cols {
				a.Set(i, j, received[bucket][col])
			}
		}

		var solution mat.VecDense
		if err := solution.SolveVec(a, b); err != nil {
			if _, ok := err.(mat.Condition); !ok {
				return errors.Internal(err).WithDetail("operation", "I/O coefficient regression")
			}
			log.Warn("I/O coefficient regression is poorly conditioned", logger.Fields(
				"task", task, "stream", stream))
		}
		for j, col := range cols {
			set.coefficients[Key{Task: task, Output: stream, Input: col.input, Upstream: col.upstream}] = solution.AtVec(j)
		}
	}
	return nil
}

// bucketEmits sums emit counts per task, output stream and bucket index.
func (e *Estimator) bucketEmits(rows []telemetry.Row, w telemetry.Window, member map[int]bool) map[int]map[string]map[int]float64 {
	out := make(map[int]map[string]map[int]float64)
	for _, row := range rows {
		if !member[row.Task] {
			continue
		}
		bucket, ok := e.bucketOf(row.Timestamp, w)
		if !ok {
			continue
		}
		streams, ok := out[row.Task]
		if !ok {
			streams = make(map[string]map[int]float64)
			out[row.Task] = streams
		}
		counts, ok := streams[row.Stream]
		if !ok {
			counts = make(map[int]float64)
			streams[row.Stream] = counts
		}
		counts[bucket] += row.Value
	}
	return out
}

// bucketExecs sums execute counts per task, bucket index and input column.
// Backends that record execute counts per stream only leave Source empty;
// such rows are attributed structurally when the task has exactly one
// upstream operator for the stream and dropped otherwise.
func (e *Estimator) bucketExecs(rows []telemetry.Row, w telemetry.Window, member map[int]bool,
	snap *graph.Snapshot, log *logger.Logger) map[int]map[int]map[column]float64 {

	type taskStream struct {
		task   int
		stream string
	}
	out := make(map[int]map[int]map[column]float64)
	upstreams := make(map[taskStream][]string)
	dropped := 0
	for _, row := range rows {
		if !member[row.Task] {
			continue
		}
		bucket, ok := e.bucketOf(row.Timestamp, w)
		if !ok {
			continue
		}
		source := row.Source
		if source == "" {
			key := taskStream{task: row.Task, stream: row.Stream}
			candidates, ok := upstreams[key]
			if !ok {
				candidates = snap.UpstreamOperators(row.Task, row.Stream)
				upstreams[key] = candidates
			}
			if len(candidates) != 1 {
				dropped++
				continue
			}
			source = candidates[0]
		}
		byBucket, ok := out[row.Task]
		if !ok {
			byBucket = make(map[int]map[column]float64)
			out[row.Task] = byBucket
		}
		counts, ok := byBucket[bucket]
		if !ok {
			counts = make(map[column]float64)
			byBucket[bucket] = counts
		}
		counts[column{input: row.Stream, upstream: source}] += row.Value
	}
	if dropped > 0 {
		log.Warn("Dropped execute counts without a single attributable upstream operator", logger.Fields(
			"rows", dropped))
	}
	return out
}

func (e *Estimator) bucketOf(ts time.Time, w telemetry.Window) (int, bool) {
	if ts.Before(w.Start) || !ts.Before(w.End) {
		return 0, false
	}
	return int(ts.Sub(w.Start) / e.bucket), true
}

// inOutTasks returns the tasks of every operator with both incoming and
// outgoing connections, sorted ascending.
func inOutTasks(snap *graph.Snapshot) []int {
	var tasks []int
	for _, operator := range snap.Operators() {
		opTasks := snap.OperatorTasks(operator)
		var hasIn, hasOut bool
		for _, t := range opTasks {
			if len(snap.InEdges(t)) > 0 {
				hasIn = true
			}
			if len(snap.OutEdges(t)) > 0 {
				hasOut = true
			}
		}
		if hasIn && hasOut {
			tasks = append(tasks, opTasks...)
		}
	}
	sort.Ints(tasks)
	return tasks
}

// taskColumns lists the distinct (input stream, upstream operator) pairs of
// a task's incoming edges, sorted for a stable matrix column order.
func taskColumns(snap *graph.Snapshot, task int) []column {
	seen := make(map[column]bool)
	var cols []column
	for _, edge := range snap.InEdges(task) {
		c := column{input: edge.Stream, upstream: edge.SourceOperator}
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	sort.Slice(cols, func(i, j int) bool {
		if cols[i].input != cols[j].input {
			return cols[i].input < cols[j].input
		}
		return cols[i].upstream < cols[j].upstream
	})
	return cols
}
