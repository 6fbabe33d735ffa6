package paths

import (
	"context"
	"strings"
	"sync"

	"github.com/kbukum/streamsight/cache"
	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/graph"
	"github.com/kbukum/streamsight/logger"
)

// Route is one concrete path through the topology: the operator-level
// shape plus the task taken at each hop.
type Route struct {
	Operators string `json:"operators"`
	Tasks     []int  `json:"tasks"`
}

// Latency is a route priced with its predicted end-to-end latency.
type Latency struct {
	Operators string  `json:"operators"`
	Tasks     []int   `json:"tasks"`
	LatencyMS float64 `json:"latency_ms"`
}

// Analyzer enumerates and prices topology routes.
type Analyzer struct {
	memo    *cache.RefStore[[]Route]
	workers int
	log     *logger.Logger
}

// NewAnalyzer creates an analyzer with an empty route cache.
func NewAnalyzer(cfg Config, log *logger.Logger) (*Analyzer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidInput("paths", err.Error()).WithCause(err)
	}
	return &Analyzer{
		memo:    cache.NewRefStore[[]Route](),
		workers: cfg.Workers,
		log:     log.WithComponent("paths"),
	}, nil
}

// Routes returns every concrete instance route of the snapshot: one
// operator-level simple path per (source, sink) pair, expanded into the
// cross product of the operators' instances. Routes are fixed for the
// lifetime of a snapshot, so results are memoized by (topology, reference).
// Fails when no source reaches a sink.
func (a *Analyzer) Routes(ctx context.Context, snap *graph.Snapshot) ([]Route, error) {
	return a.memo.GetOrCompute(snap.Topology, snap.Reference, func() ([]Route, error) {
		routes, err := a.enumerate(ctx, snap)
		if err != nil {
			return nil, err
		}
		if len(routes) == 0 {
			return nil, errors.UnsupportedTopology("no source reaches a sink, topology paths are unavailable")
		}
		a.log.Debug("Enumerated topology routes", logger.Fields(
			logger.FieldTopology, snap.Topology,
			logger.FieldReference, snap.Reference,
			"routes", len(routes),
		))
		return routes, nil
	})
}

// Latencies prices every route of the snapshot given per-task service and
// waiting times in milliseconds. A task missing from either map contributes
// nothing; sources in particular have no execute measurements.
func (a *Analyzer) Latencies(ctx context.Context, snap *graph.Snapshot, service, waiting map[int]float64) ([]Latency, error) {
	routes, err := a.Routes(ctx, snap)
	if err != nil {
		return nil, err
	}
	out := make([]Latency, 0, len(routes))
	for _, route := range routes {
		total := 0.0
		for _, task := range route.Tasks {
			total += service[task] + waiting[task]
		}
		out = append(out, Latency{Operators: route.Operators, Tasks: route.Tasks, LatencyMS: total})
	}
	return out, nil
}

// InvalidateTopology drops the memoized routes of a topology. Wired to the
// graph builder's supersede notifications.
func (a *Analyzer) InvalidateTopology(topology string) {
	a.memo.InvalidateTopology(topology)
}

// enumerate fans the per-source search out over the worker pool and merges
// the results back in source order.
func (a *Analyzer) enumerate(ctx context.Context, snap *graph.Snapshot) ([]Route, error) {
	sources := snap.SourceOperators()
	sinks := snap.SinkOperators()

	perSource := make([][]Route, len(sources))
	sem := make(chan struct{}, a.workers)
	var wg sync.WaitGroup
	for i, source := range sources {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, errors.Timeout("route enumeration").WithCause(ctx.Err())
		}
		wg.Add(1)
		go func(i int, source string) {
			defer wg.Done()
			defer func() { <-sem }()
			perSource[i] = routesFrom(snap, source, sinks)
		}(i, source)
	}
	wg.Wait()

	var out []Route
	for _, routes := range perSource {
		out = append(out, routes...)
	}
	return out, nil
}

// routesFrom finds one simple operator path from the source to every
// reachable sink and expands each into instance routes.
func routesFrom(snap *graph.Snapshot, source string, sinks []string) []Route {
	var out []Route
	for _, sink := range sinks {
		path := findPath(snap, source, sink)
		if path == nil {
			continue
		}
		out = append(out, expand(snap, path)...)
	}
	return out
}

// findPath returns one simple path between two operators, or nil. The
// search is depth first over the sorted operator adjacency, so the
// representative path for a pair is deterministic.
func findPath(snap *graph.Snapshot, from, to string) []string {
	visited := map[string]bool{from: true}
	trail := []string{from}

	var dfs func(op string) []string
	dfs = func(op string) []string {
		if op == to {
			return append([]string(nil), trail...)
		}
		for _, next := range snap.DownstreamOperators(op) {
			if visited[next] {
				continue
			}
			visited[next] = true
			trail = append(trail, next)
			if found := dfs(next); found != nil {
				return found
			}
			trail = trail[:len(trail)-1]
		}
		return nil
	}
	return dfs(from)
}

// expand produces the cross product of instance routes along an operator
// path, the first operator varying slowest.
func expand(snap *graph.Snapshot, path []string) []Route {
	operators := strings.Join(path, "->")
	lists := make([][]int, len(path))
	total := 1
	for i, op := range path {
		lists[i] = snap.OperatorTasks(op)
		total *= len(lists[i])
	}
	if total == 0 {
		return nil
	}

	out := make([]Route, 0, total)
	tasks := make([]int, len(path))
	var walk func(depth int)
	walk = func(depth int) {
		if depth == len(lists) {
			out = append(out, Route{Operators: operators, Tasks: append([]int(nil), tasks...)})
			return
		}
		for _, task := range lists[depth] {
			tasks[depth] = task
			walk(depth + 1)
		}
	}
	walk(0)
	return out
}
