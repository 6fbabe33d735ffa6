package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/model"
	"github.com/kbukum/streamsight/server"
	"github.com/kbukum/streamsight/server/middleware"
	"github.com/kbukum/streamsight/telemetry"
	"github.com/kbukum/streamsight/topology"
	"github.com/kbukum/streamsight/tracker"
	"github.com/kbukum/streamsight/validation"
)

// ModelRunner runs the prediction pipelines. The model.Runner implements
// it.
type ModelRunner interface {
	RunTopology(ctx context.Context, req model.TopologyRequest) (*model.TopologyResponse, error)
	RunTraffic(ctx context.Context, req model.TrafficRequest) (*model.TrafficResponse, error)
}

// Directory serves the cluster and topology registry of the coordination
// service. The tracker client implements it.
type Directory interface {
	Topologies(ctx context.Context) ([]tracker.TopologyEntry, error)
	Clusters(ctx context.Context) ([]string, error)
}

// Handler serves the prediction API routes.
type Handler struct {
	cfg       Config
	runner    ModelRunner
	directory Directory
	log       *logger.Logger
}

// NewHandler creates a handler over validated configuration.
func NewHandler(cfg Config, runner ModelRunner, directory Directory, log *logger.Logger) (*Handler, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("api", err.Error()).WithCause(err)
	}
	return &Handler{
		cfg:       cfg,
		runner:    runner,
		directory: directory,
		log:       log.WithComponent("api"),
	}, nil
}

// Register mounts the routes on the engine. Authentication is enabled when
// a signing secret is configured; /health and /version stay open.
func (h *Handler) Register(engine *gin.Engine) {
	if h.cfg.AuthSecret != "" {
		engine.Use(middleware.Auth(middleware.AuthConfig{
			TokenValidator: tokenValidator(h.cfg.AuthSecret),
			SkipPaths:      []string{"/health", "/version"},
		}))
	}

	root := engine.Group("/streamsight")
	root.GET("/topologies", h.listTopologies)
	root.GET("/clusters", h.listClusters)

	models := root.Group("/model")
	models.GET("/topology/current/:cluster/:environ/:topology", h.topologyCurrent)
	models.POST("/topology/proposed/:cluster/:environ/:topology", h.topologyProposed)
	models.GET("/traffic/:cluster/:environ/:topology", h.trafficSummary)
}

// topologyEnvelope is the success payload of the topology model routes.
// Per-model failures travel in the response envelope's failure list.
type topologyEnvelope struct {
	Topology  string                 `json:"topology"`
	Reference string                 `json:"reference"`
	Results   []model.TopologyResult `json:"results"`
}

func (h *Handler) topologyCurrent(c *gin.Context) {
	cluster, environ, topo := c.Param("cluster"), c.Param("environ"), c.Param("topology")
	if err := pathParams(cluster, environ, topo); err != nil {
		server.RespondWithError(c, err)
		return
	}
	w, err := h.parseWindow(c)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.requestTimeout())
	defer cancel()

	resp, err := h.runner.RunTopology(ctx, model.TopologyRequest{
		Cluster:  cluster,
		Environ:  environ,
		Topology: topo,
		Window:   w,
		Models:   c.QueryArray("model"),
	})
	if err != nil {
		h.logFailure(c, "current topology prediction failed", topo, err)
		server.RespondWithError(c, err)
		return
	}
	server.RespondPartial(c, topologyEnvelope{
		Topology:  resp.Topology,
		Reference: resp.Reference,
		Results:   resp.Results,
	}, resp.Failures)
}

// proposedBody is the request document of the proposed-plan route.
type proposedBody struct {
	Traffic     map[string]map[string]float64 `json:"traffic" validate:"required"`
	PackingPlan *topology.PackingPlan         `json:"packing_plan,omitempty"`
	Models      []string                      `json:"models,omitempty"`
}

func (h *Handler) topologyProposed(c *gin.Context) {
	cluster, environ, topo := c.Param("cluster"), c.Param("environ"), c.Param("topology")
	if err := pathParams(cluster, environ, topo); err != nil {
		server.RespondWithError(c, err)
		return
	}
	var body proposedBody
	if err := c.ShouldBindJSON(&body); err != nil {
		server.RespondWithError(c, errors.InvalidInput("body", err.Error()).WithCause(err))
		return
	}
	if err := validation.Validate(&body); err != nil {
		server.RespondWithError(c, err)
		return
	}
	w, err := h.parseWindow(c)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}

	models := body.Models
	if len(models) == 0 {
		models = []string{model.TopologyQueueingProposed}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.requestTimeout())
	defer cancel()

	resp, err := h.runner.RunTopology(ctx, model.TopologyRequest{
		Cluster:  cluster,
		Environ:  environ,
		Topology: topo,
		Window:   w,
		Models:   models,
		Traffic:  body.Traffic,
		Plan:     body.PackingPlan,
	})
	if err != nil {
		h.logFailure(c, "proposed topology prediction failed", topo, err)
		server.RespondWithError(c, err)
		return
	}
	server.RespondPartial(c, topologyEnvelope{
		Topology:  resp.Topology,
		Reference: resp.Reference,
		Results:   resp.Results,
	}, resp.Failures)
}

// trafficEnvelope is the success payload of the traffic route.
type trafficEnvelope struct {
	Topology  string                `json:"topology"`
	Reference string                `json:"reference"`
	Results   []model.TrafficResult `json:"results"`
}

func (h *Handler) trafficSummary(c *gin.Context) {
	cluster, environ, topo := c.Param("cluster"), c.Param("environ"), c.Param("topology")
	if err := pathParams(cluster, environ, topo); err != nil {
		server.RespondWithError(c, err)
		return
	}
	hours := 0
	if raw := c.Query("source_hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			server.RespondWithError(c, errors.InvalidInput("source_hours", fmt.Sprintf("want a positive integer, got %q", raw)))
			return
		}
		hours = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.requestTimeout())
	defer cancel()

	resp, err := h.runner.RunTraffic(ctx, model.TrafficRequest{
		Cluster:     cluster,
		Environ:     environ,
		Topology:    topo,
		Models:      c.QueryArray("model"),
		SourceHours: hours,
	})
	if err != nil {
		h.logFailure(c, "traffic summary failed", topo, err)
		server.RespondWithError(c, err)
		return
	}
	server.RespondPartial(c, trafficEnvelope{
		Topology:  resp.Topology,
		Reference: resp.Reference,
		Results:   resp.Results,
	}, resp.Failures)
}

func (h *Handler) listTopologies(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.requestTimeout())
	defer cancel()

	entries, err := h.directory.Topologies(ctx)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, entries)
}

func (h *Handler) listClusters(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.requestTimeout())
	defer cancel()

	names, err := h.directory.Clusters(ctx)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, names)
}

// parseWindow reads the optional start/end query bounds, either RFC3339 or
// epoch seconds. Absent bounds fall back to the configured trailing window.
func (h *Handler) parseWindow(c *gin.Context) (telemetry.Window, error) {
	rawStart, rawEnd := c.Query("start"), c.Query("end")
	if rawStart == "" && rawEnd == "" {
		return telemetry.LastWindow(h.cfg.defaultWindow()), nil
	}
	if rawStart == "" || rawEnd == "" {
		return telemetry.Window{}, errors.InvalidInput("window", "start and end must be given together")
	}
	start, err := parseTimeBound("start", rawStart)
	if err != nil {
		return telemetry.Window{}, err
	}
	end, err := parseTimeBound("end", rawEnd)
	if err != nil {
		return telemetry.Window{}, err
	}
	w := telemetry.NewWindow(start, end)
	if err := w.Validate(); err != nil {
		return telemetry.Window{}, err
	}
	return w, nil
}

func parseTimeBound(field, raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.InvalidInput(field, fmt.Sprintf("cannot parse %q as RFC3339 or epoch seconds", raw))
	}
	return t, nil
}

func pathParams(cluster, environ, topo string) error {
	if err := validation.New().
		Required("cluster", cluster).
		Required("environ", environ).
		Required("topology", topo).
		Validate(); err != nil {
		return err
	}
	return nil
}

func (h *Handler) logFailure(c *gin.Context, msg, topo string, err error) {
	h.log.Warn(msg, logger.MergeWithError(logger.Fields(
		logger.FieldTopology, topo,
		logger.FieldRequestID, c.GetString(middleware.ContextRequestID),
	), err))
}
