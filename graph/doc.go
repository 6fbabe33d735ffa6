// Package graph holds the in-memory property graph of a topology: one
// immutable snapshot per (topology, reference) pair, built from the logical
// and physical plan documents.
//
// A snapshot contains an instance vertex per running operator replica, a
// stream-manager vertex per container daemon, logical edges materialized as
// the full cross product of connected operator instances, and the derived
// stream-manager connectivity. Snapshots are never mutated after Put; a
// structural change in the running topology is handled by building a new
// snapshot under a fresh reference and retiring the old one.
//
// The Builder owns the staleness protocol: EnsureCurrent compares the most
// recent snapshot's creation time against the coordination service's
// last-structural-update timestamp and rebuilds only when the topology
// changed, serialized per topology through a lock.
package graph
