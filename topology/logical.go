package topology

import (
	"sort"

	"github.com/kbukum/streamsight/validation"
)

// Partitioning schemes for a stream connection.
const (
	// PartitionShuffle distributes tuples uniformly across destination
	// instances.
	PartitionShuffle = "SHUFFLE"
	// PartitionFields routes tuples by key, so the per-instance split is an
	// empirical property of the traffic.
	PartitionFields = "FIELDS"
	// PartitionAll broadcasts every tuple to all destination instances.
	PartitionAll = "ALL"
)

// OperatorKind distinguishes sources from processing operators.
type OperatorKind string

const (
	// KindSource marks an operator that injects tuples into the topology.
	KindSource OperatorKind = "source"
	// KindProcessing marks an operator that consumes at least one stream.
	KindProcessing OperatorKind = "processing"
)

// OutputStream declares a stream an operator emits on.
type OutputStream struct {
	Stream string `json:"stream" validate:"required"`
}

// InputStream declares one stream a processing operator consumes, together
// with the partitioning scheme the upstream operator uses to route into it.
type InputStream struct {
	Upstream     string `json:"upstream" validate:"required"`
	Stream       string `json:"stream" validate:"required"`
	Partitioning string `json:"partitioning" validate:"required,oneof=SHUFFLE FIELDS ALL"`
}

// SourceSpec describes a source operator in the logical plan.
type SourceSpec struct {
	Outputs []OutputStream `json:"outputs" validate:"min=1,dive"`
}

// ProcessorSpec describes a processing operator in the logical plan.
type ProcessorSpec struct {
	Inputs  []InputStream  `json:"inputs" validate:"min=1,dive"`
	Outputs []OutputStream `json:"outputs,omitempty" validate:"omitempty,dive"`
}

// LogicalPlan is the operator-level graph document served by the
// coordination service. Sources emit tuples, processors consume and
// optionally re-emit them.
type LogicalPlan struct {
	Sources    map[string]SourceSpec    `json:"sources" validate:"min=1"`
	Processors map[string]ProcessorSpec `json:"processors"`
}

// Validate checks the document shape. Cross references between operators are
// checked by the graph builder, which has the physical plan available too.
func (p *LogicalPlan) Validate() error {
	return validation.Validate(p)
}

// OperatorNames returns all operator names, sources first, each group
// sorted.
func (p *LogicalPlan) OperatorNames() []string {
	names := make([]string, 0, len(p.Sources)+len(p.Processors))
	for name := range p.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	procs := make([]string, 0, len(p.Processors))
	for name := range p.Processors {
		procs = append(procs, name)
	}
	sort.Strings(procs)
	return append(names, procs...)
}

// OperatorKind reports whether the named operator is a source or a
// processor. The second result is false when the plan does not declare it.
func (p *LogicalPlan) OperatorKind(name string) (OperatorKind, bool) {
	if _, ok := p.Sources[name]; ok {
		return KindSource, true
	}
	if _, ok := p.Processors[name]; ok {
		return KindProcessing, true
	}
	return "", false
}

// Inputs returns the input streams of the named operator. Sources have none.
func (p *LogicalPlan) Inputs(name string) []InputStream {
	spec, ok := p.Processors[name]
	if !ok {
		return nil
	}
	return spec.Inputs
}

// OutputStreams returns the declared output stream names of an operator.
func (p *LogicalPlan) OutputStreams(name string) []string {
	var outs []OutputStream
	if spec, ok := p.Sources[name]; ok {
		outs = spec.Outputs
	} else if spec, ok := p.Processors[name]; ok {
		outs = spec.Outputs
	}
	streams := make([]string, 0, len(outs))
	for _, o := range outs {
		streams = append(streams, o.Stream)
	}
	sort.Strings(streams)
	return streams
}

// FirstFieldsChain scans for a key-partitioned connection whose upstream
// operator is itself fed by a key-partitioned connection. Routing
// probabilities cannot be inferred downstream of such a chain, so analysis
// of these topologies is rejected up front. It returns the upstream and
// downstream operator of the first offending connection.
func (p *LogicalPlan) FirstFieldsChain() (upstream, downstream string, found bool) {
	names := make([]string, 0, len(p.Processors))
	for name := range p.Processors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, in := range p.Processors[name].Inputs {
			if in.Partitioning != PartitionFields {
				continue
			}
			src, ok := p.Processors[in.Upstream]
			if !ok {
				continue
			}
			for _, srcIn := range src.Inputs {
				if srcIn.Partitioning == PartitionFields {
					return in.Upstream, name, true
				}
			}
		}
	}
	return "", "", false
}
