package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/topology"
)

// Backend names accepted by the configuration.
const (
	BackendTopologyMaster = "topologymaster"
	BackendTSDB           = "tsdb"
	BackendInflux         = "influx"
)

// Metric names shared by every backend. They double as cache key parts.
const (
	MetricServiceTime     = "execute-latency"
	MetricExecuteCount    = "execute-count"
	MetricEmitCount       = "emit-count"
	MetricReceiveCount    = "receive-count"
	MetricCompleteLatency = "complete-latency"
	MetricArrivalRate     = "arrival-rate"
	MetricCPULoad         = "cpu-load"
	MetricGCTime          = "gc-time-ms"
	MetricTransferCount   = "transfer-count"
)

// Row is the uniform shape of one telemetry measurement. Source and
// SourceTask identify the upstream instance for metrics that attribute
// their origin; they are zero otherwise.
type Row struct {
	Timestamp  time.Time `json:"timestamp"`
	Operator   string    `json:"operator"`
	Task       int       `json:"task"`
	Container  int       `json:"container"`
	Stream     string    `json:"stream,omitempty"`
	Source     string    `json:"source,omitempty"`
	SourceTask int       `json:"source_task,omitempty"`
	Value      float64   `json:"value"`
}

// Window bounds a telemetry query in time.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow normalizes the bounds to UTC.
func NewWindow(start, end time.Time) Window {
	return Window{Start: start.UTC(), End: end.UTC()}
}

// LastWindow covers the period ending now.
func LastWindow(d time.Duration) Window {
	end := time.Now().UTC()
	return Window{Start: end.Add(-d), End: end}
}

// Duration returns the window length.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Validate rejects empty or inverted windows.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return errors.MissingField("window bounds")
	}
	if !w.End.After(w.Start) {
		return errors.InvalidInput("window", fmt.Sprintf("start %s is not before end %s",
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339)))
	}
	return nil
}

// Client reads measurements for one topology from a metric store. Every
// method is scoped by (cluster, environ, topology, window) and returns rows
// sorted by timestamp. Latencies are milliseconds, counts are totals per
// store interval, rates are per second. A metric the backend cannot serve
// fails with the metric-unavailable code rather than succeeding empty.
type Client interface {
	// Backend names the store this client reads from.
	Backend() string

	// ServiceTimes returns execute latency per instance and incoming stream.
	ServiceTimes(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error)

	// ExecuteCounts returns tuples executed per instance and incoming stream.
	ExecuteCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error)

	// EmitCounts returns tuples emitted per instance and outgoing stream.
	EmitCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error)

	// ReceiveCounts returns tuples received per instance, incoming stream and
	// upstream instance.
	ReceiveCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error)

	// CompleteLatencies returns end-to-end tuple latency per source instance
	// and stream. Only meaningful under at-least-once reliability.
	CompleteLatencies(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error)

	// ArrivalRates returns tuples arriving per second at each instance.
	ArrivalRates(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error)

	// CPULoad returns the per-instance CPU load (cores) over the window.
	CPULoad(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error)

	// GCTimeMS returns per-instance garbage collection time in milliseconds
	// per store interval.
	GCTimeMS(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error)

	// TransferCounts returns tuples moved between instance pairs per stream,
	// summed over the window.
	TransferCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error)
}

// PlanSource supplies logical plans to backends that build per-stream
// metric names. *tracker.Client satisfies it.
type PlanSource interface {
	LogicalPlan(ctx context.Context, cluster, environ, topo string) (*topology.LogicalPlan, error)
}

// IsSystemStream reports whether a stream carries runtime-internal traffic
// (acks, heartbeats) rather than topology data. Such rows are excluded from
// every result set.
func IsSystemStream(stream string) bool {
	return strings.Contains(stream, "__")
}

// sortRows orders rows by timestamp, then by instance identity so equal
// timestamps stay deterministic.
func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Operator != b.Operator {
			return a.Operator < b.Operator
		}
		if a.Task != b.Task {
			return a.Task < b.Task
		}
		if a.Stream != b.Stream {
			return a.Stream < b.Stream
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.SourceTask < b.SourceTask
	})
}

// New builds the configured backend, wrapped in the window cache unless
// caching is disabled.
func New(cfg Config, plans PlanSource, log *logger.Logger) (Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("telemetry", err.Error()).WithCause(err)
	}

	var (
		client Client
		err    error
	)
	switch cfg.Backend {
	case BackendTopologyMaster:
		client, err = NewTopologyMaster(cfg.TopologyMaster, plans, log)
	case BackendTSDB:
		client, err = NewTSDB(cfg.TSDB, log)
	case BackendInflux:
		client, err = NewInflux(cfg.Influx, log)
	default:
		return nil, errors.InvalidInput("telemetry.backend",
			fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheDisabled {
		return client, nil
	}
	return WithCache(client), nil
}
