package topology

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/validation"
)

// StreamManager is the per-container routing daemon entry in the physical
// plan. All tuples entering or leaving a container pass through its stream
// manager.
type StreamManager struct {
	ID        string   `json:"id" validate:"required"`
	Host      string   `json:"host" validate:"required"`
	Port      int      `json:"port" validate:"gt=0"`
	Instances []string `json:"instances" validate:"min=1"`
}

// Container extracts the container index from the stream manager ID, which
// has the wire form stmgr-<index>.
func (sm StreamManager) Container() (int, error) {
	idx := strings.LastIndex(sm.ID, "-")
	if idx < 0 || idx == len(sm.ID)-1 {
		return 0, errors.StructuralInconsistency(
			fmt.Sprintf("stream manager id %q does not end in a container index", sm.ID))
	}
	n, err := strconv.Atoi(sm.ID[idx+1:])
	if err != nil {
		return 0, errors.StructuralInconsistency(
			fmt.Sprintf("stream manager id %q does not end in a container index", sm.ID)).WithCause(err)
	}
	return n, nil
}

// Reliability modes a topology can run under. Complete latencies are only
// measured under at-least-once delivery.
const (
	ReliabilityAtMostOnce  = "ATMOST_ONCE"
	ReliabilityAtLeastOnce = "ATLEAST_ONCE"
	// ReliabilityModeKey is the topology config key carrying the mode.
	ReliabilityModeKey = "topology.reliability.mode"
)

// PhysicalPlan is the placement document served by the coordination
// service: which instances run where, and which stream manager serves each
// of them.
type PhysicalPlan struct {
	StreamManagers map[string]StreamManager `json:"stream_managers" validate:"min=1"`
	Operators      map[string][]string      `json:"operators" validate:"min=1"`
	Config         map[string]string        `json:"config,omitempty"`
}

// ReliabilityMode returns the topology's delivery guarantee, defaulting to
// at-most-once when the plan does not set one.
func (p *PhysicalPlan) ReliabilityMode() string {
	if mode, ok := p.Config[ReliabilityModeKey]; ok && mode != "" {
		return mode
	}
	return ReliabilityAtMostOnce
}

// Validate checks the document shape.
func (p *PhysicalPlan) Validate() error {
	return validation.Validate(p)
}

// InstancesOf returns the instance names of the given operator, sorted.
func (p *PhysicalPlan) InstancesOf(operator string) []string {
	names := append([]string(nil), p.Operators[operator]...)
	sort.Strings(names)
	return names
}

// ManagerOf returns the stream manager serving the named instance.
func (p *PhysicalPlan) ManagerOf(instance string) (StreamManager, bool) {
	ids := make([]string, 0, len(p.StreamManagers))
	for id := range p.StreamManagers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sm := p.StreamManagers[id]
		for _, name := range sm.Instances {
			if name == instance {
				return sm, true
			}
		}
	}
	return StreamManager{}, false
}
