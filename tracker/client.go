package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/topology"
)

const serviceName = "coordination service"

// TopologyEntry identifies one running topology.
type TopologyEntry struct {
	Cluster string `json:"cluster"`
	Environ string `json:"environ"`
	Name    string `json:"name"`
}

// envelope is the response wrapper the coordination service uses.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Client talks to the coordination service.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

// New creates a coordination service client from the configuration.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("tracker", err.Error()).WithCause(err)
	}
	timeout, _ := time.ParseDuration(cfg.Timeout)

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.WithComponent("tracker"),
	}, nil
}

// Topologies lists every topology the coordination service knows about.
func (c *Client) Topologies(ctx context.Context) ([]TopologyEntry, error) {
	var result struct {
		Topologies []TopologyEntry `json:"topologies"`
	}
	if err := c.get(ctx, "/topologies", nil, &result); err != nil {
		return nil, err
	}
	return result.Topologies, nil
}

// Clusters lists the cluster names the coordination service manages.
func (c *Client) Clusters(ctx context.Context) ([]string, error) {
	var result struct {
		Clusters []string `json:"clusters"`
	}
	if err := c.get(ctx, "/clusters", nil, &result); err != nil {
		return nil, err
	}
	return result.Clusters, nil
}

// Ping verifies the coordination service answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Clusters(ctx)
	return err
}

// LogicalPlan fetches the operator graph document of a topology.
func (c *Client) LogicalPlan(ctx context.Context, cluster, environ, topo string) (*topology.LogicalPlan, error) {
	var plan topology.LogicalPlan
	if err := c.get(ctx, "/topologies/logicalplan", topoQuery(cluster, environ, topo), &plan); err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, errors.ExternalServiceError(serviceName,
			fmt.Errorf("logical plan for %s fails validation: %w", topo, err))
	}
	return &plan, nil
}

// PhysicalPlan fetches the placement document of a topology.
func (c *Client) PhysicalPlan(ctx context.Context, cluster, environ, topo string) (*topology.PhysicalPlan, error) {
	var plan topology.PhysicalPlan
	if err := c.get(ctx, "/topologies/physicalplan", topoQuery(cluster, environ, topo), &plan); err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, errors.ExternalServiceError(serviceName,
			fmt.Errorf("physical plan for %s fails validation: %w", topo, err))
	}
	return &plan, nil
}

// PackingPlan fetches the container resource document of a topology. Schema
// violations surface with their own code so recommendation requests fail
// fast.
func (c *Client) PackingPlan(ctx context.Context, cluster, environ, topo string) (*topology.PackingPlan, error) {
	var plan topology.PackingPlan
	if err := c.get(ctx, "/topologies/packingplan", topoQuery(cluster, environ, topo), &plan); err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// LastStructuralUpdate returns when the topology's structure (plans,
// placement or scale) last changed, as recorded by the coordination
// service.
func (c *Client) LastStructuralUpdate(ctx context.Context, cluster, environ, topo string) (time.Time, error) {
	var result struct {
		UpdatedAt string `json:"updated_at"`
	}
	if err := c.get(ctx, "/topologies/lastupdate", topoQuery(cluster, environ, topo), &result); err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, result.UpdatedAt)
	if err != nil {
		return time.Time{}, errors.ExternalServiceError(serviceName,
			fmt.Errorf("unparseable update timestamp %q: %w", result.UpdatedAt, err))
	}
	return ts.UTC(), nil
}

func topoQuery(cluster, environ, topo string) url.Values {
	q := url.Values{}
	q.Set("cluster", cluster)
	q.Set("environ", environ)
	q.Set("topology", topo)
	return q
}

// get performs a GET request, unwraps the envelope and decodes the result.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Internal(err)
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Timeout("tracker " + path).WithCause(err)
		}
		return errors.ConnectionFailed(serviceName).WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.ConnectionFailed(serviceName).WithCause(err)
	}

	if err := classifyStatus(resp.StatusCode, path); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errors.ExternalServiceError(serviceName, fmt.Errorf("decode envelope: %w", err))
	}
	if env.Status != "success" {
		return errors.ExternalServiceError(serviceName,
			fmt.Errorf("request %s failed: %s", path, env.Message))
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return errors.ExternalServiceError(serviceName, fmt.Errorf("decode result: %w", err))
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the shared error codes.
func classifyStatus(status int, path string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return errors.NotFound("topology resource", path)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Unauthorized("coordination service rejected the request")
	case status == http.StatusBadRequest:
		return errors.InvalidInput("", fmt.Sprintf("coordination service rejected %s", path))
	case status >= 500:
		return errors.ServiceUnavailable(serviceName)
	default:
		return errors.ExternalServiceError(serviceName,
			fmt.Errorf("unexpected status %d from %s", status, path))
	}
}
