package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/kbukum/streamsight/topology"
)

// Instance is the vertex for one running operator replica.
type Instance struct {
	Task      int
	Operator  string
	Kind      topology.OperatorKind
	Container int
	// Manager is the id of the stream manager serving this instance.
	Manager string
}

// Manager is the vertex for one container's stream manager daemon.
type Manager struct {
	ID        string
	Host      string
	Port      int
	Container int
}

// Edge is a logical connection between two instances on one stream.
type Edge struct {
	SourceTask     int
	SourceOperator string
	DestTask       int
	DestOperator   string
	Stream         string
	Partitioning   string
	// Local marks both endpoints served by the same stream manager.
	Local bool
	// Probability is the routing probability attached at build time for
	// partitioning schemes that are structural (uniform and broadcast).
	// Key-partitioned probabilities depend on a telemetry window and are
	// carried separately by routing estimates.
	Probability    float64
	HasProbability bool
}

// ManagerEdge is the derived remote connectivity between two stream
// managers.
type ManagerEdge struct {
	From string
	To   string
}

// Snapshot is the immutable graph of one topology version. All lookups are
// safe for concurrent use; callers must not modify returned slices.
type Snapshot struct {
	Topology  string
	Reference string
	CreatedAt time.Time

	// Reliability is the topology's delivery guarantee from the physical
	// plan config.
	Reliability string

	instances     map[int]*Instance
	operatorTasks map[string][]int
	managers      map[string]*Manager
	managerTasks  map[string][]int
	out           map[int][]*Edge
	in            map[int][]*Edge
	downstream    map[string][]string
	managerEdges  []ManagerEdge
	sources       []string
	sinks         []string

	levelsOnce sync.Once
	levels     [][]int
	levelsErr  error
}

func newSnapshot(topologyID, reference string, createdAt time.Time) *Snapshot {
	return &Snapshot{
		Topology:      topologyID,
		Reference:     reference,
		CreatedAt:     createdAt,
		instances:     make(map[int]*Instance),
		operatorTasks: make(map[string][]int),
		managers:      make(map[string]*Manager),
		managerTasks:  make(map[string][]int),
		out:           make(map[int][]*Edge),
		in:            make(map[int][]*Edge),
		downstream:    make(map[string][]string),
	}
}

func (s *Snapshot) addManager(m *Manager) {
	s.managers[m.ID] = m
}

func (s *Snapshot) addInstance(inst *Instance) {
	s.instances[inst.Task] = inst
	s.operatorTasks[inst.Operator] = append(s.operatorTasks[inst.Operator], inst.Task)
	s.managerTasks[inst.Manager] = append(s.managerTasks[inst.Manager], inst.Task)
}

func (s *Snapshot) addEdge(e *Edge) {
	s.out[e.SourceTask] = append(s.out[e.SourceTask], e)
	s.in[e.DestTask] = append(s.in[e.DestTask], e)
}

// Instance returns the vertex for a task id.
func (s *Snapshot) Instance(task int) (*Instance, bool) {
	inst, ok := s.instances[task]
	return inst, ok
}

// Instances returns every instance vertex sorted by task id.
func (s *Snapshot) Instances() []*Instance {
	out := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out
}

// Tasks returns every task id sorted.
func (s *Snapshot) Tasks() []int {
	out := make([]int, 0, len(s.instances))
	for task := range s.instances {
		out = append(out, task)
	}
	sort.Ints(out)
	return out
}

// OperatorTasks returns the sorted task ids of one operator.
func (s *Snapshot) OperatorTasks(operator string) []int {
	return s.operatorTasks[operator]
}

// Operators returns every operator name sorted.
func (s *Snapshot) Operators() []string {
	out := make([]string, 0, len(s.operatorTasks))
	for name := range s.operatorTasks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SourceOperators returns the operators that inject tuples, sorted.
func (s *Snapshot) SourceOperators() []string { return s.sources }

// SinkOperators returns the operators with no outgoing connections, sorted.
func (s *Snapshot) SinkOperators() []string { return s.sinks }

// SourceTasks returns the task ids of all source instances, sorted.
func (s *Snapshot) SourceTasks() []int {
	var out []int
	for _, op := range s.sources {
		out = append(out, s.operatorTasks[op]...)
	}
	sort.Ints(out)
	return out
}

// DownstreamOperators returns the operator names directly fed by the given
// operator, sorted.
func (s *Snapshot) DownstreamOperators(operator string) []string {
	return s.downstream[operator]
}

// UpstreamOperators returns the distinct operators feeding a task on the
// given stream, sorted. Estimators use it to attribute per-stream metrics
// from backends that do not record the upstream operator.
func (s *Snapshot) UpstreamOperators(task int, stream string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.in[task] {
		if e.Stream == stream && !seen[e.SourceOperator] {
			seen[e.SourceOperator] = true
			out = append(out, e.SourceOperator)
		}
	}
	sort.Strings(out)
	return out
}

// OutEdges returns the outgoing logical edges of a task.
func (s *Snapshot) OutEdges(task int) []*Edge { return s.out[task] }

// InEdges returns the incoming logical edges of a task.
func (s *Snapshot) InEdges(task int) []*Edge { return s.in[task] }

// Edges returns every logical edge ordered by source task, destination
// task and stream.
func (s *Snapshot) Edges() []*Edge {
	var out []*Edge
	for _, edges := range s.out {
		out = append(out, edges...)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SourceTask != b.SourceTask {
			return a.SourceTask < b.SourceTask
		}
		if a.DestTask != b.DestTask {
			return a.DestTask < b.DestTask
		}
		return a.Stream < b.Stream
	})
	return out
}

// StreamManagers returns every stream manager vertex sorted by id.
func (s *Snapshot) StreamManagers() []*Manager {
	out := make([]*Manager, 0, len(s.managers))
	for _, m := range s.managers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ManagerTasks returns the sorted task ids served by one stream manager.
func (s *Snapshot) ManagerTasks(id string) []int { return s.managerTasks[id] }

// ManagerEdges returns the derived remote stream-manager connectivity.
func (s *Snapshot) ManagerEdges() []ManagerEdge { return s.managerEdges }

// finalize sorts the adjacency indexes and derives the operator-level
// summaries. Called once by the builder before the snapshot is published.
func (s *Snapshot) finalize(plan *topology.LogicalPlan) {
	for _, tasks := range s.operatorTasks {
		sort.Ints(tasks)
	}
	for _, tasks := range s.managerTasks {
		sort.Ints(tasks)
	}

	s.sources = s.sources[:0]
	for name := range plan.Sources {
		s.sources = append(s.sources, name)
	}
	sort.Strings(s.sources)

	seen := make(map[string]map[string]bool)
	hasOut := make(map[string]bool)
	for _, edges := range s.out {
		for _, e := range edges {
			hasOut[e.SourceOperator] = true
			if seen[e.SourceOperator] == nil {
				seen[e.SourceOperator] = make(map[string]bool)
			}
			seen[e.SourceOperator][e.DestOperator] = true
		}
	}
	for src, dsts := range seen {
		for dst := range dsts {
			s.downstream[src] = append(s.downstream[src], dst)
		}
		sort.Strings(s.downstream[src])
	}

	s.sinks = s.sinks[:0]
	for name := range s.operatorTasks {
		if !hasOut[name] {
			s.sinks = append(s.sinks, name)
		}
	}
	sort.Strings(s.sinks)

	remote := make(map[ManagerEdge]bool)
	for _, edges := range s.out {
		for _, e := range edges {
			if e.Local {
				continue
			}
			src, dst := s.instances[e.SourceTask], s.instances[e.DestTask]
			remote[ManagerEdge{From: src.Manager, To: dst.Manager}] = true
		}
	}
	s.managerEdges = s.managerEdges[:0]
	for edge := range remote {
		s.managerEdges = append(s.managerEdges, edge)
	}
	sort.Slice(s.managerEdges, func(i, j int) bool {
		if s.managerEdges[i].From != s.managerEdges[j].From {
			return s.managerEdges[i].From < s.managerEdges[j].From
		}
		return s.managerEdges[i].To < s.managerEdges[j].To
	})
}
