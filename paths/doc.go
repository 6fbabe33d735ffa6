// Package paths enumerates the routes records can take through a topology
// and prices them. For every (source, sink) operator pair one representative
// simple path is found, then expanded into the cross product of the
// operators' instances. Routes are invariant for the lifetime of a snapshot
// and are memoized per (topology, reference); enumeration fans out per
// source operator over a bounded worker pool. The end-to-end latency of a
// route is the sum of service and waiting time over its instances.
package paths
