package telemetry

import (
	"context"

	"github.com/kbukum/streamsight/cache"
)

// cached memoizes backend results per metric and window. Entries are never
// shared across windows and failures are not cached, so a flaky backend
// gets retried on the next request.
type cached struct {
	inner Client
	store *cache.WindowStore[[]Row]
}

// WithCache wraps a client in the window-keyed result cache. Concurrent
// requests for the same window collapse into one backend query.
func WithCache(inner Client) Client {
	return &cached{inner: inner, store: cache.NewWindowStore[[]Row]()}
}

// Backend names the store the wrapped client reads from.
func (c *cached) Backend() string { return c.inner.Backend() }

func (c *cached) rows(metric, cluster, environ, topo string, w Window, fetch func() ([]Row, error)) ([]Row, error) {
	key := cache.NewWindowKey(c.inner.Backend(), metric, topo, cluster, environ, w.Start, w.End)
	return c.store.GetOrCompute(key, fetch)
}

func (c *cached) ServiceTimes(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.rows(MetricServiceTime, cluster, environ, topo, w, func() ([]Row, error) {
		return c.inner.ServiceTimes(ctx, cluster, environ, topo, w)
	})
}

func (c *cached) ExecuteCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.rows(MetricExecuteCount, cluster, environ, topo, w, func() ([]Row, error) {
		return c.inner.ExecuteCounts(ctx, cluster, environ, topo, w)
	})
}

func (c *cached) EmitCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.rows(MetricEmitCount, cluster, environ, topo, w, func() ([]Row, error) {
		return c.inner.EmitCounts(ctx, cluster, environ, topo, w)
	})
}

func (c *cached) ReceiveCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.rows(MetricReceiveCount, cluster, environ, topo, w, func() ([]Row, error) {
		return c.inner.ReceiveCounts(ctx, cluster, environ, topo, w)
	})
}

func (c *cached) CompleteLatencies(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.rows(MetricCompleteLatency, cluster, environ, topo, w, func() ([]Row, error) {
		return c.inner.CompleteLatencies(ctx, cluster, environ, topo, w)
	})
}

func (c *cached) ArrivalRates(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.rows(MetricArrivalRate, cluster, environ, topo, w, func() ([]Row, error) {
		return c.inner.ArrivalRates(ctx, cluster, environ, topo, w)
	})
}

func (c *cached) CPULoad(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.rows(MetricCPULoad, cluster, environ, topo, w, func() ([]Row, error) {
		return c.inner.CPULoad(ctx, cluster, environ, topo, w)
	})
}

func (c *cached) GCTimeMS(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.rows(MetricGCTime, cluster, environ, topo, w, func() ([]Row, error) {
		return c.inner.GCTimeMS(ctx, cluster, environ, topo, w)
	})
}

func (c *cached) TransferCounts(ctx context.Context, cluster, environ, topo string, w Window) ([]Row, error) {
	return c.rows(MetricTransferCount, cluster, environ, topo, w, func() ([]Row, error) {
		return c.inner.TransferCounts(ctx, cluster, environ, topo, w)
	})
}
