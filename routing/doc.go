// Package routing estimates per-connection routing probabilities: the
// chance that a record leaving a source instance on a stream reaches one
// particular destination instance. Uniformly partitioned and broadcast
// connections carry structural probabilities on the graph snapshot itself;
// this package covers key partitioned connections, whose probabilities
// depend on observed traffic. Two estimation paths exist: transfer counts
// give the actual per-pair split, and execute count shares approximate it
// for backends that cannot attribute records to a sending instance.
package routing
