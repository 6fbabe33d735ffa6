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
)

const influxService = "influx database"

// Influx reads measurements from an InfluxQL server. Each metric is a
// measurement with instance identity and stream attribution carried as
// tags and the reading in a "value" field.
type Influx struct {
	baseURL  string
	database string
	username string
	password string
	http     *http.Client
	log      *logger.Logger
}

// NewInflux creates an InfluxQL client.
func NewInflux(cfg InfluxConfig, log *logger.Logger) (*Influx, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, errors.InvalidInput("influx.timeout", err.Error()).WithCause(err)
	}
	return &Influx{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		database: cfg.Database,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
		log:      log.WithComponent("telemetry.influx"),
	}, nil
}

// Backend names the store this client reads from.
func (c *Influx) Backend() string { return BackendInflux }

// Tag sets by measurement shape.
var (
	influxStreamSourced = []string{"operator", "task", "container", "stream", "source"}
	influxReceiveTags   = []string{"operator", "task", "container", "stream", "source", "source_task"}
	influxStreamTags    = []string{"operator", "task", "container", "stream"}
	influxInstanceTags  = []string{"operator", "task", "container"}
)

// ServiceTimes returns execute latency per instance and incoming stream.
func (c *Influx) ServiceTimes(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.fetch(ctx, cluster, environ, topo, w, MetricServiceTime, influxStreamSourced)
}

// ExecuteCounts returns tuples executed per instance and incoming stream.
func (c *Influx) ExecuteCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.fetch(ctx, cluster, environ, topo, w, MetricExecuteCount, influxStreamSourced)
}

// EmitCounts returns tuples emitted per instance and outgoing stream.
func (c *Influx) EmitCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.fetch(ctx, cluster, environ, topo, w, MetricEmitCount, influxStreamTags)
}

// ReceiveCounts returns tuples received per instance, incoming stream and
// upstream instance.
func (c *Influx) ReceiveCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.fetch(ctx, cluster, environ, topo, w, MetricReceiveCount, influxReceiveTags)
}

// CompleteLatencies returns end-to-end tuple latency per source instance
// and outgoing stream.
func (c *Influx) CompleteLatencies(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.fetch(ctx, cluster, environ, topo, w, MetricCompleteLatency, influxStreamTags)
}

// ArrivalRates returns tuples arriving per second at each instance.
func (c *Influx) ArrivalRates(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.fetch(ctx, cluster, environ, topo, w, MetricArrivalRate, influxInstanceTags)
}

// CPULoad returns the per-instance CPU load over the window.
func (c *Influx) CPULoad(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.fetch(ctx, cluster, environ, topo, w, MetricCPULoad, influxInstanceTags)
}

// GCTimeMS returns per-instance garbage collection time per interval.
func (c *Influx) GCTimeMS(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.fetch(ctx, cluster, environ, topo, w, MetricGCTime, influxInstanceTags)
}

// TransferCounts aggregates receive counts over the whole window into one
// row per (upstream instance, stream, instance) pair.
func (c *Influx) TransferCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	received, err := c.ReceiveCounts(ctx, cluster, environ, topo, w)
	if err != nil {
		return nil, err
	}
	rows := sumTransfers(received, w)
	sortRows(rows)
	return rows, nil
}

type influxSeries struct {
	Name    string            `json:"name"`
	Tags    map[string]string `json:"tags"`
	Columns []string          `json:"columns"`
	Values  [][]json.Number   `json:"values"`
}

type influxResult struct {
	Series []influxSeries `json:"series"`
	Error  string         `json:"error"`
}

type influxResponse struct {
	Results []influxResult `json:"results"`
	Error   string         `json:"error"`
}

// fetch selects raw points for one measurement grouped by its tag set.
func (c *Influx) fetch(ctx context.Context, cluster, environ, topo string, w Window,
	measurement string, tags []string) ([]Row, error) {

	if err := w.Validate(); err != nil {
		return nil, err
	}

	quoted := make([]string, len(tags))
	for i, tag := range tags {
		quoted[i] = strconv.Quote(tag)
	}
	q := fmt.Sprintf(`SELECT "value" FROM %q WHERE "topology" = '%s' AND "cluster" = '%s' AND "environ" = '%s' AND time >= %ds AND time < %ds GROUP BY %s`,
		measurement, escapeInflux(topo), escapeInflux(cluster), escapeInflux(environ),
		w.Start.Unix(), w.End.Unix(), strings.Join(quoted, ", "))

	resp, err := c.query(ctx, q)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, result := range resp.Results {
		if result.Error != "" {
			return nil, errors.ExternalServiceError(influxService,
				fmt.Errorf("query against %q failed: %s", measurement, result.Error))
		}
		for _, series := range result.Series {
			base, ok := rowFromTags(series.Tags)
			if !ok {
				continue
			}
			for _, point := range series.Values {
				if len(point) < 2 {
					continue
				}
				secs, err := point[0].Int64()
				if err != nil {
					continue
				}
				value, err := point[1].Float64()
				if err != nil {
					continue
				}
				row := base
				row.Timestamp = time.Unix(secs, 0).UTC()
				row.Value = value
				rows = append(rows, row)
			}
		}
	}
	if len(rows) == 0 && len(resp.Results) > 0 && len(resp.Results[0].Series) == 0 {
		return nil, errors.MetricUnavailable(measurement, BackendInflux)
	}
	sortRows(rows)
	return rows, nil
}

// rowFromTags builds the invariant part of a row from a series tag set.
// Series on runtime-internal streams are skipped.
func rowFromTags(tags map[string]string) (Row, bool) {
	if IsSystemStream(tags["stream"]) {
		return Row{}, false
	}
	task, err := strconv.Atoi(tags["task"])
	if err != nil {
		return Row{}, false
	}
	container, _ := strconv.Atoi(tags["container"])
	row := Row{
		Operator:  tags["operator"],
		Task:      task,
		Container: container,
		Stream:    tags["stream"],
		Source:    tags["source"],
	}
	if raw, ok := tags["source_task"]; ok {
		sourceTask, err := strconv.Atoi(raw)
		if err != nil {
			return Row{}, false
		}
		row.SourceTask = sourceTask
	}
	return row, true
}

func escapeInflux(v string) string {
	return strings.ReplaceAll(v, "'", `\'`)
}

func (c *Influx) query(ctx context.Context, q string) (*influxResponse, error) {
	params := url.Values{}
	params.Set("db", c.database)
	params.Set("epoch", "s")
	params.Set("q", q)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/query", nil)
	if err != nil {
		return nil, errors.Internal(err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	c.log.Debug("querying influx", logger.Fields("query", q))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Timeout("influx query").WithCause(err)
		}
		return nil, errors.ConnectionFailed(influxService).WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ConnectionFailed(influxService).WithCause(err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Unauthorized("influx rejected the credentials")
	case resp.StatusCode >= 500:
		return nil, errors.ServiceUnavailable(influxService)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, errors.ExternalServiceError(influxService,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out influxResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.ExternalServiceError(influxService, fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return nil, errors.ExternalServiceError(influxService, fmt.Errorf("query failed: %s", out.Error))
	}
	return &out, nil
}
