package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/topology"
)

const tsdbService = "time-series database"

// TSDB reads measurements from the aggregating time-series database. The
// store attributes every tuple count to its upstream instance, so the full
// metric surface is available.
type TSDB struct {
	baseURL    string
	prefix     string
	clientName string
	gran       string
	http       *http.Client
	log        *logger.Logger
}

// NewTSDB creates a time-series database client for the configured zone.
func NewTSDB(cfg TSDBConfig, log *logger.Logger) (*TSDB, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, errors.InvalidInput("tsdb.timeout", err.Error()).WithCause(err)
	}
	base := strings.ReplaceAll(cfg.URL, "{zone}", cfg.Zone)
	return &TSDB{
		baseURL:    strings.TrimRight(base, "/"),
		prefix:     cfg.ServicePrefix,
		clientName: cfg.ClientName,
		gran:       cfg.Granularity,
		http:       &http.Client{Timeout: timeout},
		log:        log.WithComponent("telemetry.tsdb"),
	}, nil
}

// Backend names the store this client reads from.
func (c *TSDB) Backend() string { return BackendTSDB }

// ServiceTimes returns execute latency per instance and incoming stream.
func (c *TSDB) ServiceTimes(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	expr := fmt.Sprintf("ts(avg, %s, /*/*, %s/*/*)", c.service(topo), MetricServiceTime)
	return c.fetch(ctx, MetricServiceTime, "execute latency", expr, w, parseSourcedStream, 1.0/1000)
}

// ExecuteCounts returns tuples executed per instance and incoming stream.
func (c *TSDB) ExecuteCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	expr := fmt.Sprintf("ts(sum, %s, /*/*, %s/*/*)", c.service(topo), MetricExecuteCount)
	return c.fetch(ctx, MetricExecuteCount, "execute count", expr, w, parseSourcedStream, 1)
}

// EmitCounts returns tuples emitted per instance and outgoing stream.
func (c *TSDB) EmitCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	expr := fmt.Sprintf("ts(sum, %s, /*/*, %s/*)", c.service(topo), MetricEmitCount)
	return c.fetch(ctx, MetricEmitCount, "emit count", expr, w, parseStreamOnly, 1)
}

// ReceiveCounts returns tuples received per instance, incoming stream and
// upstream instance.
func (c *TSDB) ReceiveCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	expr := fmt.Sprintf("ts(sum, %s, /*/*, %s/*/*/*)", c.service(topo), MetricReceiveCount)
	return c.fetch(ctx, MetricReceiveCount, "receive count", expr, w, parseSourcedTaskStream, 1)
}

// CompleteLatencies returns end-to-end tuple latency per source instance
// and outgoing stream.
func (c *TSDB) CompleteLatencies(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	expr := fmt.Sprintf("ts(avg, %s, /*/*, %s/*)", c.service(topo), MetricCompleteLatency)
	return c.fetch(ctx, MetricCompleteLatency, "complete latency", expr, w, parseStreamOnly, 1.0/1000)
}

// CPULoad returns the per-instance CPU load over the window.
func (c *TSDB) CPULoad(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	expr := fmt.Sprintf("ts(avg, %s, /*/*, %s)", c.service(topo), MetricCPULoad)
	return c.fetch(ctx, MetricCPULoad, "cpu load", expr, w, parseBare, 1)
}

// GCTimeMS returns per-instance garbage collection time per interval.
func (c *TSDB) GCTimeMS(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	expr := fmt.Sprintf("ts(sum, %s, /*/*, %s)", c.service(topo), MetricGCTime)
	return c.fetch(ctx, MetricGCTime, "gc time", expr, w, parseBare, 1)
}

// ArrivalRates derives per-second arrivals at each instance from receive
// counts, summing over streams and upstream instances within each bucket.
func (c *TSDB) ArrivalRates(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	received, err := c.ReceiveCounts(ctx, cluster, environ, topo, w)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		ts   time.Time
		task int
	}
	totals := map[bucket]*Row{}
	for _, r := range received {
		key := bucket{ts: r.Timestamp, task: r.Task}
		if agg, ok := totals[key]; ok {
			agg.Value += r.Value
			continue
		}
		totals[key] = &Row{
			Timestamp: r.Timestamp,
			Operator:  r.Operator,
			Task:      r.Task,
			Container: r.Container,
			Value:     r.Value,
		}
	}

	seconds := c.bucketSeconds()
	rows := make([]Row, 0, len(totals))
	for _, agg := range totals {
		agg.Value /= seconds
		rows = append(rows, *agg)
	}
	sortRows(rows)
	return rows, nil
}

// TransferCounts aggregates receive counts over the whole window into one
// row per (upstream instance, stream, instance) pair.
func (c *TSDB) TransferCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	received, err := c.ReceiveCounts(ctx, cluster, environ, topo, w)
	if err != nil {
		return nil, err
	}
	rows := sumTransfers(received, w)
	sortRows(rows)
	return rows, nil
}

// sumTransfers collapses receive-count rows into per-pair totals stamped
// at the window start.
func sumTransfers(received []Row, w Window) []Row {
	type pair struct {
		source     string
		sourceTask int
		stream     string
		task       int
	}
	totals := map[pair]*Row{}
	for _, r := range received {
		key := pair{source: r.Source, sourceTask: r.SourceTask, stream: r.Stream, task: r.Task}
		if agg, ok := totals[key]; ok {
			agg.Value += r.Value
			continue
		}
		row := r
		row.Timestamp = w.Start
		totals[key] = &row
	}
	rows := make([]Row, 0, len(totals))
	for _, agg := range totals {
		rows = append(rows, *agg)
	}
	return rows
}

func (c *TSDB) service(topo string) string {
	return c.prefix + "/" + topo
}

func (c *TSDB) bucketSeconds() float64 {
	switch c.gran {
	case "h":
		return 3600
	case "s":
		return 1
	default:
		return 60
	}
}

// metricParser fills the stream and source fields of a row from the parts
// of a metric name. It reports false for series that should be skipped.
type metricParser func(parts []string, row *Row) bool

// parseSourcedStream handles <metric>/<source operator>/<stream>.
func parseSourcedStream(parts []string, row *Row) bool {
	if len(parts) != 3 || IsSystemStream(parts[2]) {
		return false
	}
	row.Source = parts[1]
	row.Stream = parts[2]
	return true
}

// parseSourcedTaskStream handles <metric>/<source operator>/<source
// task>/<stream>.
func parseSourcedTaskStream(parts []string, row *Row) bool {
	if len(parts) != 4 || IsSystemStream(parts[3]) {
		return false
	}
	task, err := strconv.Atoi(parts[2])
	if err != nil {
		return false
	}
	row.Source = parts[1]
	row.SourceTask = task
	row.Stream = parts[3]
	return true
}

// parseStreamOnly handles <metric>/<stream>.
func parseStreamOnly(parts []string, row *Row) bool {
	if len(parts) != 2 || IsSystemStream(parts[1]) {
		return false
	}
	row.Stream = parts[1]
	return true
}

// parseBare handles metrics without a stream dimension.
func parseBare(parts []string, row *Row) bool {
	return len(parts) == 1
}

type tsdbSeries struct {
	Source struct {
		Sources []string `json:"sources"`
		Metrics []string `json:"metrics"`
	} `json:"source"`
	Data [][2]float64 `json:"data"`
}

type tsdbResponse struct {
	Status     string       `json:"status"`
	Message    string       `json:"message"`
	Timeseries []tsdbSeries `json:"timeseries"`
}

// fetch runs one query expression and flattens every returned series into
// rows using the parser for the metric's name shape. A metric with no
// series at all is reported as unavailable, not as an empty success.
func (c *TSDB) fetch(ctx context.Context, metric, name, expr string, w Window,
	parse metricParser, scale float64) ([]Row, error) {

	if err := w.Validate(); err != nil {
		return nil, err
	}

	resp, err := c.query(ctx, name, expr, w)
	if err != nil {
		return nil, err
	}
	if len(resp.Timeseries) == 0 {
		return nil, errors.MetricUnavailable(metric, BackendTSDB)
	}

	var rows []Row
	for _, series := range resp.Timeseries {
		if len(series.Source.Sources) == 0 || len(series.Source.Metrics) == 0 {
			continue
		}
		instance, err := parseSourceRef(series.Source.Sources[0])
		if err != nil {
			return nil, err
		}
		base := Row{
			Operator:  instance.Operator,
			Task:      instance.Task,
			Container: instance.Container,
		}
		if !parse(strings.Split(series.Source.Metrics[0], "/"), &base) {
			continue
		}
		for _, point := range series.Data {
			row := base
			row.Timestamp = time.Unix(int64(point[0]), 0).UTC()
			row.Value = point[1] * scale
			rows = append(rows, row)
		}
	}
	sortRows(rows)
	return rows, nil
}

// parseSourceRef extracts the instance from a series source reference of
// the form <service>/<operator>/<instance>.
func parseSourceRef(ref string) (topology.InstanceName, error) {
	parts := strings.Split(ref, "/")
	if len(parts) < 3 {
		return topology.InstanceName{}, errors.ExternalServiceError(tsdbService,
			fmt.Errorf("malformed series source %q", ref))
	}
	return topology.ParseInstanceName(parts[len(parts)-1])
}

func (c *TSDB) query(ctx context.Context, name, expr string, w Window) (*tsdbResponse, error) {
	q := url.Values{}
	q.Set("query", expr)
	q.Set("client_source", c.clientName)
	q.Set("granularity", c.gran)
	q.Set("name", name)
	q.Set("start", strconv.FormatInt(w.Start.Unix(), 10))
	q.Set("end", strconv.FormatInt(w.End.Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/query", nil)
	if err != nil {
		return nil, errors.Internal(err)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	c.log.Debug("querying time-series database", logger.Fields("query", expr, "name", name))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Timeout("time-series query " + name).WithCause(err)
		}
		return nil, errors.ConnectionFailed(tsdbService).WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ConnectionFailed(tsdbService).WithCause(err)
	}
	if resp.StatusCode >= 500 {
		return nil, errors.ServiceUnavailable(tsdbService)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.ExternalServiceError(tsdbService,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var out tsdbResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.ExternalServiceError(tsdbService, fmt.Errorf("decode response: %w", err))
	}
	if out.Status != "Success" {
		return nil, errors.ExternalServiceError(tsdbService,
			fmt.Errorf("query %q failed: %s", name, out.Message))
	}
	return &out, nil
}
