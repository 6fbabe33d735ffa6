package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/topology"
)

// tmHorizon is how much history the coordination service's timeline store
// retains. Queries beyond it are rejected rather than silently truncated.
const tmHorizon = 3 * time.Hour

// TopologyMaster reads measurements from the coordination service's
// metrics timeline endpoint. The store only covers recent history and
// cannot attribute tuples to their upstream instance, so receive counts,
// transfer counts and arrival rates are unavailable here.
type TopologyMaster struct {
	baseURL string
	http    *http.Client
	plans   PlanSource
	log     *logger.Logger
}

// NewTopologyMaster creates a timeline-store client. The plan source is
// needed to expand per-stream metric names.
func NewTopologyMaster(cfg TopologyMasterConfig, plans PlanSource, log *logger.Logger) (*TopologyMaster, error) {
	if plans == nil {
		return nil, errors.MissingField("telemetry plan source")
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, errors.InvalidInput("topologymaster.timeout", err.Error()).WithCause(err)
	}
	return &TopologyMaster{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: timeout},
		plans:   plans,
		log:     log.WithComponent("telemetry.topologymaster"),
	}, nil
}

// Backend names the store this client reads from.
func (c *TopologyMaster) Backend() string { return BackendTopologyMaster }

// ServiceTimes returns execute latency per instance and incoming stream.
func (c *TopologyMaster) ServiceTimes(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.streamMetric(ctx, cluster, environ, topo, w, MetricServiceTime, inputStreams, 1.0/1000)
}

// ExecuteCounts returns tuples executed per instance and incoming stream.
func (c *TopologyMaster) ExecuteCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.streamMetric(ctx, cluster, environ, topo, w, MetricExecuteCount, inputStreams, 1)
}

// EmitCounts returns tuples emitted per instance and outgoing stream.
func (c *TopologyMaster) EmitCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.streamMetric(ctx, cluster, environ, topo, w, MetricEmitCount, outputStreams, 1)
}

// CompleteLatencies returns end-to-end tuple latency per source instance
// and outgoing stream.
func (c *TopologyMaster) CompleteLatencies(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.streamMetric(ctx, cluster, environ, topo, w, MetricCompleteLatency, sourceOutputStreams, 1.0/1000)
}

// CPULoad returns the per-instance CPU load over the window.
func (c *TopologyMaster) CPULoad(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.instanceMetric(ctx, cluster, environ, topo, w, MetricCPULoad)
}

// GCTimeMS returns per-instance garbage collection time per interval.
func (c *TopologyMaster) GCTimeMS(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.instanceMetric(ctx, cluster, environ, topo, w, MetricGCTime)
}

// ReceiveCounts is not recorded by the timeline store.
func (c *TopologyMaster) ReceiveCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return nil, errors.MetricUnavailable(MetricReceiveCount, BackendTopologyMaster)
}

// TransferCounts is not recorded by the timeline store.
func (c *TopologyMaster) TransferCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return nil, errors.MetricUnavailable(MetricTransferCount, BackendTopologyMaster)
}

// ArrivalRates is not recorded by the timeline store.
func (c *TopologyMaster) ArrivalRates(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return nil, errors.MetricUnavailable(MetricArrivalRate, BackendTopologyMaster)
}

// streamSelector picks which streams of an operator a metric is recorded
// under.
type streamSelector func(lp *topology.LogicalPlan, operator string) []string

func inputStreams(lp *topology.LogicalPlan, operator string) []string {
	seen := map[string]bool{}
	var streams []string
	for _, in := range lp.Inputs(operator) {
		if !seen[in.Stream] {
			seen[in.Stream] = true
			streams = append(streams, in.Stream)
		}
	}
	return streams
}

func outputStreams(lp *topology.LogicalPlan, operator string) []string {
	return lp.OutputStreams(operator)
}

func sourceOutputStreams(lp *topology.LogicalPlan, operator string) []string {
	kind, ok := lp.OperatorKind(operator)
	if !ok || kind != topology.KindSource {
		return nil
	}
	return lp.OutputStreams(operator)
}

// streamMetric queries <metric>/<stream> for every operator stream chosen
// by the selector and scales each measurement into the interface unit.
func (c *TopologyMaster) streamMetric(ctx context.Context, cluster, environ, topo string, w Window,
	metric string, pick streamSelector, scale float64) ([]Row, error) {

	if err := c.checkWindow(w); err != nil {
		return nil, err
	}
	lp, err := c.plans.LogicalPlan(ctx, cluster, environ, topo)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, operator := range lp.OperatorNames() {
		streams := pick(lp, operator)
		if len(streams) == 0 {
			continue
		}
		names := make([]string, 0, len(streams))
		for _, stream := range streams {
			if IsSystemStream(stream) {
				continue
			}
			names = append(names, metric+"/"+stream)
		}
		if len(names) == 0 {
			continue
		}
		operatorRows, err := c.operatorRows(ctx, cluster, environ, topo, operator, w, names, scale)
		if err != nil {
			return nil, err
		}
		rows = append(rows, operatorRows...)
	}
	sortRows(rows)
	return rows, nil
}

// instanceMetric queries one resource metric recorded per instance without
// a stream dimension.
func (c *TopologyMaster) instanceMetric(ctx context.Context, cluster, environ, topo string, w Window,
	metric string) ([]Row, error) {

	if err := c.checkWindow(w); err != nil {
		return nil, err
	}
	lp, err := c.plans.LogicalPlan(ctx, cluster, environ, topo)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, operator := range lp.OperatorNames() {
		operatorRows, err := c.operatorRows(ctx, cluster, environ, topo, operator, w, []string{metric}, 1)
		if err != nil {
			return nil, err
		}
		rows = append(rows, operatorRows...)
	}
	sortRows(rows)
	return rows, nil
}

func (c *TopologyMaster) checkWindow(w Window) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.Duration() > tmHorizon {
		return errors.InvalidInput("window", fmt.Sprintf(
			"the timeline store retains %s of history, requested %s", tmHorizon, w.Duration()))
	}
	return nil
}

// operatorRows fetches the timeline for one operator and flattens it into
// rows. Timeline values are strings; unparseable or nan entries are
// dropped.
func (c *TopologyMaster) operatorRows(ctx context.Context, cluster, environ, topo, operator string,
	w Window, metrics []string, scale float64) ([]Row, error) {

	timeline, err := c.timeline(ctx, cluster, environ, topo, operator, w, metrics)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for metricName, instances := range timeline {
		stream := ""
		if idx := strings.Index(metricName, "/"); idx >= 0 {
			stream = metricName[idx+1:]
		}
		for instance, points := range instances {
			name, err := topology.ParseInstanceName(instance)
			if err != nil {
				return nil, err
			}
			for stamp, value := range points {
				secs, err := strconv.ParseInt(stamp, 10, 64)
				if err != nil {
					continue
				}
				v, err := strconv.ParseFloat(value, 64)
				if err != nil || math.IsNaN(v) {
					continue
				}
				rows = append(rows, Row{
					Timestamp: time.Unix(secs, 0).UTC(),
					Operator:  name.Operator,
					Task:      name.Task,
					Container: name.Container,
					Stream:    stream,
					Value:     v * scale,
				})
			}
		}
	}
	return rows, nil
}

// timeline response: metric name -> instance name -> timestamp -> value.
type timelineResult struct {
	Timeline map[string]map[string]map[string]string `json:"timeline"`
}

func (c *TopologyMaster) timeline(ctx context.Context, cluster, environ, topo, operator string,
	w Window, metrics []string) (map[string]map[string]map[string]string, error) {

	q := url.Values{}
	q.Set("cluster", cluster)
	q.Set("environ", environ)
	q.Set("topology", topo)
	q.Set("component", operator)
	q.Set("starttime", strconv.FormatInt(w.Start.Unix(), 10))
	q.Set("endtime", strconv.FormatInt(w.End.Unix(), 10))
	for _, m := range metrics {
		q.Add("metricname", m)
	}

	target := c.baseURL + "/topologies/metricstimeline"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Internal(err)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	c.log.Debug("querying metrics timeline", logger.Fields(
		logger.FieldTopology, topo, logger.FieldOperation, operator, "metrics", strings.Join(metrics, ",")))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Timeout("metrics timeline query").WithCause(err)
		}
		return nil, errors.ConnectionFailed("timeline store").WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ConnectionFailed("timeline store").WithCause(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.MetricUnavailable(strings.Join(metrics, ","), BackendTopologyMaster)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.ExternalServiceError("timeline store",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var env struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.ExternalServiceError("timeline store", fmt.Errorf("decode envelope: %w", err))
	}
	if env.Status != "success" {
		return nil, errors.ExternalServiceError("timeline store",
			fmt.Errorf("timeline query failed: %s", env.Message))
	}
	var result timelineResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, errors.ExternalServiceError("timeline store", fmt.Errorf("decode timeline: %w", err))
	}
	return result.Timeline, nil
}
