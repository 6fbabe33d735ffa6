package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/streamsight/errors"
	"github.com/kbukum/streamsight/lock"
	"github.com/kbukum/streamsight/logger"
	"github.com/kbukum/streamsight/topology"
)

// PlanSource supplies the plan documents and the structural-change
// timestamp of a topology. The tracker client implements it.
type PlanSource interface {
	LogicalPlan(ctx context.Context, cluster, environ, topo string) (*topology.LogicalPlan, error)
	PhysicalPlan(ctx context.Context, cluster, environ, topo string) (*topology.PhysicalPlan, error)
	LastStructuralUpdate(ctx context.Context, cluster, environ, topo string) (time.Time, error)
}

// Builder turns plan documents into graph snapshots and keeps each
// topology's snapshot current.
type Builder struct {
	store *Store
	plans PlanSource
	lock  lock.Locker
	log   *logger.Logger
	now   func() time.Time

	mu          sync.Mutex
	onSupersede []func(topologyID string)
}

// NewBuilder creates a builder over the given store, plan source and lock.
func NewBuilder(store *Store, plans PlanSource, locker lock.Locker, log *logger.Logger) *Builder {
	return &Builder{
		store: store,
		plans: plans,
		lock:  locker,
		log:   log.WithComponent("graph"),
		now:   time.Now,
	}
}

// Store returns the snapshot store the builder writes to.
func (b *Builder) Store() *Store { return b.store }

// OnSupersede registers a callback invoked with the topology id whenever a
// fresh snapshot replaces the current one. Reference-keyed caches hook in
// here to drop retired entries.
func (b *Builder) OnSupersede(fn func(topologyID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSupersede = append(b.onSupersede, fn)
}

func (b *Builder) notifySupersede(topologyID string) {
	b.mu.Lock()
	callbacks := make([]func(string), len(b.onSupersede))
	copy(callbacks, b.onSupersede)
	b.mu.Unlock()
	for _, fn := range callbacks {
		fn(topologyID)
	}
}

// BuildSnapshot materializes a snapshot from the plan documents under the
// given reference. It fails with AlreadyExists when the (topology,
// reference) pair is taken and with StructuralInconsistency when the plans
// disagree; no partial snapshot is ever stored.
func (b *Builder) BuildSnapshot(ctx context.Context, topologyID, ref string, lp *topology.LogicalPlan, pp *topology.PhysicalPlan) (*Snapshot, error) {
	if lp == nil || pp == nil {
		return nil, errors.InvalidInput("plan", "both logical and physical plans are required")
	}
	if b.store.Exists(topologyID, ref) {
		return nil, errors.AlreadyExists(topologyID, ref)
	}
	createdAt, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}

	start := b.now()
	snap := newSnapshot(topologyID, ref, createdAt)
	snap.Reliability = pp.ReliabilityMode()

	if err := addManagers(snap, pp); err != nil {
		return nil, err
	}
	if err := addInstances(snap, lp, pp); err != nil {
		return nil, err
	}
	if err := connect(snap, lp); err != nil {
		return nil, err
	}
	snap.finalize(lp)

	if up, down, found := lp.FirstFieldsChain(); found {
		b.log.Warn("topology chains key partitioned connections, routing estimation will reject it", map[string]interface{}{
			logger.FieldTopology: topologyID,
			"upstream":           up,
			"downstream":         down,
		})
	}

	if err := b.store.Put(snap); err != nil {
		return nil, err
	}

	b.log.Info("graph snapshot built", map[string]interface{}{
		logger.FieldTopology:  topologyID,
		logger.FieldReference: ref,
		"instances":           len(snap.instances),
		"stream_managers":     len(snap.managers),
		logger.FieldDuration:  time.Since(start).Milliseconds(),
	})
	return snap, nil
}

// EnsureCurrent returns the current snapshot for a topology, building a
// fresh one when the coordination service reports a structural change newer
// than the stored snapshot. Calls for the same topology serialize through
// the lock.
func (b *Builder) EnsureCurrent(ctx context.Context, cluster, environ, topologyID string) (*Snapshot, error) {
	release, err := b.lock.Acquire(ctx, topologyID)
	if err != nil {
		return nil, err
	}
	defer release()

	if snap, ok := b.store.MostRecent(topologyID); ok {
		lastUpdate, err := b.plans.LastStructuralUpdate(ctx, cluster, environ, topologyID)
		if err != nil {
			return nil, err
		}
		if snap.CreatedAt.After(lastUpdate) {
			b.log.Debug("graph snapshot is current", map[string]interface{}{
				logger.FieldTopology:  topologyID,
				logger.FieldReference: snap.Reference,
			})
			return snap, nil
		}
		b.log.Info("topology structure changed, rebuilding graph", map[string]interface{}{
			logger.FieldTopology: topologyID,
			"snapshot_time":      snap.CreatedAt.Format(time.RFC3339),
			"updated_at":         lastUpdate.Format(time.RFC3339),
		})
	}

	lp, err := b.plans.LogicalPlan(ctx, cluster, environ, topologyID)
	if err != nil {
		return nil, err
	}
	pp, err := b.plans.PhysicalPlan(ctx, cluster, environ, topologyID)
	if err != nil {
		return nil, err
	}

	ref := NewReference(b.now())
	snap, err := b.BuildSnapshot(ctx, topologyID, ref, lp, pp)
	if errors.HasCode(err, errors.ErrCodeAlreadyExists) {
		// Same-second rebuild: the stored snapshot carries this reference.
		return b.store.Get(topologyID, ref)
	}
	if err != nil {
		return nil, err
	}

	b.notifySupersede(topologyID)
	return snap, nil
}

// addManagers creates one vertex per stream manager.
func addManagers(snap *Snapshot, pp *topology.PhysicalPlan) error {
	for id, sm := range pp.StreamManagers {
		if id != sm.ID {
			return errors.StructuralInconsistency(fmt.Sprintf(
				"stream manager keyed %q declares id %q", id, sm.ID))
		}
		container, err := sm.Container()
		if err != nil {
			return err
		}
		snap.addManager(&Manager{ID: sm.ID, Host: sm.Host, Port: sm.Port, Container: container})
	}
	return nil
}

// addInstances creates one vertex per physical replica of every declared
// operator.
func addInstances(snap *Snapshot, lp *topology.LogicalPlan, pp *topology.PhysicalPlan) error {
	for _, operator := range lp.OperatorNames() {
		names := pp.InstancesOf(operator)
		if len(names) == 0 {
			return errors.StructuralInconsistency(fmt.Sprintf(
				"operator %q has no instances in the physical plan", operator))
		}
		kind, _ := lp.OperatorKind(operator)

		for _, name := range names {
			parsed, err := topology.ParseInstanceName(name)
			if err != nil {
				return err
			}
			if parsed.Operator != operator {
				return errors.StructuralInconsistency(fmt.Sprintf(
					"instance %q is listed under operator %q", name, operator))
			}
			if _, dup := snap.instances[parsed.Task]; dup {
				return errors.StructuralInconsistency(fmt.Sprintf(
					"task id %d appears more than once in the physical plan", parsed.Task))
			}
			manager, ok := pp.ManagerOf(name)
			if !ok {
				return errors.StructuralInconsistency(fmt.Sprintf(
					"instance %q is not assigned to a stream manager", name))
			}
			if _, ok := snap.managers[manager.ID]; !ok {
				return errors.StructuralInconsistency(fmt.Sprintf(
					"instance %q is assigned to unknown stream manager %q", name, manager.ID))
			}
			snap.addInstance(&Instance{
				Task:      parsed.Task,
				Operator:  operator,
				Kind:      kind,
				Container: parsed.Container,
				Manager:   manager.ID,
			})
		}
	}
	return nil
}

// connect materializes logical edges as the full cross product of the
// connected operators' instances, per declared input stream. Structural
// partitioning schemes get their probability here: uniform is 1/n over the
// destination instances, broadcast delivers to every destination.
func connect(snap *Snapshot, lp *topology.LogicalPlan) error {
	for _, operator := range lp.OperatorNames() {
		for _, input := range lp.Inputs(operator) {
			if _, ok := lp.OperatorKind(input.Upstream); !ok {
				return errors.StructuralInconsistency(fmt.Sprintf(
					"operator %q consumes stream %q from undeclared operator %q",
					operator, input.Stream, input.Upstream))
			}
			srcTasks := snap.operatorTasks[input.Upstream]
			dstTasks := snap.operatorTasks[operator]

			for _, src := range srcTasks {
				for _, dst := range dstTasks {
					e := &Edge{
						SourceTask:     src,
						SourceOperator: input.Upstream,
						DestTask:       dst,
						DestOperator:   operator,
						Stream:         input.Stream,
						Partitioning:   input.Partitioning,
						Local:          snap.instances[src].Manager == snap.instances[dst].Manager,
					}
					switch input.Partitioning {
					case topology.PartitionShuffle:
						e.Probability = 1 / float64(len(dstTasks))
						e.HasProbability = true
					case topology.PartitionAll:
						e.Probability = 1
						e.HasProbability = true
					}
					snap.addEdge(e)
				}
			}
		}
	}
	return nil
}
