// Package model registers and orchestrates the prediction models served by
// the API.
//
// Topology models predict per-instance performance for one traffic level:
// "queueing" runs against the topology's current traffic, "queueing-proposed"
// against a hypothesized traffic document and, optionally, a proposed
// packing plan whose revision it returns. Traffic models describe historical
// traffic; "stats-summary" reduces source emit counts to descriptive
// statistics.
//
// Routing probabilities for key partitioned connections come from two
// estimation paths. The current-topology model uses execute-count activation
// shares, the only input every metric backend can provide for a running
// topology; the proposed-plan model uses direct instance-to-instance
// transfer counts over the caller's window. The chosen path is carried in
// each result.
//
// A request may name several models. They run concurrently; a model that
// fails is reported as a per-model failure entry beside the results of the
// ones that succeeded. Failures that invalidate every model — a missing
// plan, an unsupported topology shape, an invalid packing plan — abort the
// request instead.
package model
