// Package cache provides in-memory stores for derived analysis results.
//
// Two key shapes cover the two lifetimes in the system. Values derived from
// a graph snapshot are keyed by (topology, reference) and never expire,
// because snapshots are immutable once built; they are dropped wholesale
// when a newer reference supersedes them. Values derived from telemetry are
// keyed by the full metric window, so results from different windows are
// never shared.
package cache
