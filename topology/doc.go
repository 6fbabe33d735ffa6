// Package topology defines the plan documents that describe a running
// stream-processing topology: the logical plan (operators and the streams
// connecting them), the physical plan (instance placement and stream
// managers) and the packing plan (per-container resource allocations).
//
// The documents mirror what the coordination service serves over HTTP, so
// every type carries JSON tags and validates itself with struct tags.
//
// Example:
//
//	plan, err := tracker.LogicalPlan(ctx, cluster, environ, topo)
//	if err != nil {
//	    return err
//	}
//	for _, name := range plan.OperatorNames() {
//	    kind, _ := plan.OperatorKind(name)
//	    fmt.Println(name, kind)
//	}
package topology
