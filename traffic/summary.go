package traffic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/graph"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/telemetry"
)

// Stats holds the descriptive statistics of one emit count series. Values
// are counts per store interval.
type Stats struct {
	Mean      float64            `json:"mean"`
	Median    float64            `json:"median"`
	Min       float64            `json:"min"`
	Max       float64            `json:"max"`
	Std       float64            `json:"std"`
	Quantiles map[string]float64 `json:"quantiles,omitempty"`
}

// InstanceSummary is the statistics of one source instance and stream.
type InstanceSummary struct {
	Task   int    `json:"task"`
	Stream string `json:"stream"`
	Stats
}

// Summary is the traffic statistics of a topology over a window.
type Summary struct {
	Window    telemetry.Window  `json:"window"`
	Overall   Stats             `json:"overall"`
	Instances []InstanceSummary `json:"instances"`
}

// Summarizer reduces historical source emit counts to descriptive
// statistics.
type Summarizer struct {
	cfg     SummaryConfig
	metrics telemetry.Client
	log     *logger.Logger
	now     func() time.Time
}

// NewSummarizer creates a summarizer over the given metric store.
func NewSummarizer(cfg SummaryConfig, metrics telemetry.Client, log *logger.Logger) (*Summarizer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("traffic", err.Error()).WithCause(err)
	}
	return &Summarizer{
		cfg:     cfg,
		metrics: metrics,
		log:     log.WithComponent("traffic"),
		now:     time.Now,
	}, nil
}

// Window builds the summary window ending now. Hours at or below zero fall
// back to the configured default.
func (s *Summarizer) Window(hours int) telemetry.Window {
	if hours <= 0 {
		s.log.Warn("Summary hours not given, using the configured default",
			logger.Fields("default_hours", s.cfg.DefaultHours))
		hours = s.cfg.DefaultHours
	}
	end := s.now().UTC()
	return telemetry.Window{Start: end.Add(-time.Duration(hours) * time.Hour), End: end}
}

// Summarize reduces the source emit counts of the snapshot's topology over
// the window, overall and per (instance, stream).
func (s *Summarizer) Summarize(ctx context.Context, snap *graph.Snapshot, cluster, environ string, w telemetry.Window) (*Summary, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.metrics.EmitCounts(ctx, cluster, environ, snap.Topology, w)
	if err != nil {
		return nil, err
	}

	sources := make(map[int]bool)
	for _, task := range snap.SourceTasks() {
		sources[task] = true
	}

	type series struct {
		task   int
		stream string
	}
	var all []float64
	grouped := map[series][]float64{}
	for _, row := range rows {
		if !sources[row.Task] {
			continue
		}
		all = append(all, row.Value)
		key := series{task: row.Task, stream: row.Stream}
		grouped[key] = append(grouped[key], row.Value)
	}
	if len(all) == 0 {
		return nil, errors.MetricUnavailable(telemetry.MetricEmitCount, s.metrics.Backend()).
			WithDetail("reason", "no source emit counts in the window")
	}

	out := &Summary{
		Window:  w,
		Overall: s.describe(all),
	}
	for key, values := range grouped {
		out.Instances = append(out.Instances, InstanceSummary{
			Task:   key.task,
			Stream: key.stream,
			Stats:  s.describe(values),
		})
	}
	sort.Slice(out.Instances, func(i, j int) bool {
		a, b := out.Instances[i], out.Instances[j]
		if a.Task != b.Task {
			return a.Task < b.Task
		}
		return a.Stream < b.Stream
	})

	s.log.Debug("Summarized source traffic", logger.Fields(
		logger.FieldTopology, snap.Topology,
		"series", len(out.Instances),
		"observations", len(all),
	))
	return out, nil
}

func (s *Summarizer) describe(values []float64) Stats {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	st := Stats{
		Mean:   mean(sorted),
		Median: quantile(sorted, 50),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Std:    sampleStd(sorted),
	}
	if len(s.cfg.Quantiles) > 0 {
		st.Quantiles = make(map[string]float64, len(s.cfg.Quantiles))
		for _, q := range s.cfg.Quantiles {
			st.Quantiles[fmt.Sprintf("%d-quantile", q)] = quantile(sorted, float64(q))
		}
	}
	return st
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStd is the n-1 standard deviation; fewer than two observations have
// no spread.
func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// quantile linearly interpolates the q-th percentile of an ascending series.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}
