package observability

import (
	"context"
	"time"
)

// HealthStatus is the health state of a collaborator or of the service.
type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "up"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusDown     HealthStatus = "down"
)

// Health is the outcome of probing one collaborator. Critical marks the
// collaborators the prediction pipeline cannot run without; a failed
// non-critical probe only degrades the service.
type Health struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Critical  bool         `json:"critical,omitempty"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms"`
}

// HealthChecker is implemented by components that can report their health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) Health
}

// Probe adapts a named ping function into a HealthChecker, timing the
// round trip.
type Probe struct {
	Name     string
	Critical bool
	Ping     func(ctx context.Context) error
}

func (p Probe) CheckHealth(ctx context.Context) Health {
	start := time.Now()
	h := Health{Name: p.Name, Critical: p.Critical, Status: HealthStatusUp}
	if err := p.Ping(ctx); err != nil {
		h.Status = HealthStatusDown
		h.Message = err.Error()
	}
	h.LatencyMS = time.Since(start).Milliseconds()
	return h
}

// ServiceHealth aggregates the collaborator probes of one service.
type ServiceHealth struct {
	Service    string       `json:"service"`
	Status     HealthStatus `json:"status"`
	Version    string       `json:"version,omitempty"`
	Components []Health     `json:"components,omitempty"`
}

// NewServiceHealth creates a ServiceHealth with status up.
func NewServiceHealth(service, version string) *ServiceHealth {
	return &ServiceHealth{
		Service: service,
		Status:  HealthStatusUp,
		Version: version,
	}
}

// AddComponent records one probe outcome. A failed critical component takes
// the whole service down; any other failure degrades it.
func (sh *ServiceHealth) AddComponent(ch Health) {
	sh.Components = append(sh.Components, ch)

	switch {
	case ch.Status == HealthStatusDown && ch.Critical:
		sh.Status = HealthStatusDown
	case ch.Status != HealthStatusUp && sh.Status != HealthStatusDown:
		sh.Status = HealthStatusDegraded
	}
}
