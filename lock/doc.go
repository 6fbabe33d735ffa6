// Package lock serializes graph snapshot builds per topology.
//
// Builds for the same topology must not interleave, otherwise two callers
// race to create the same reference. The Local locker covers a single
// process. The Redis locker takes a short lease in Redis so multiple
// replicas of the service serialize against each other; on lease loss the
// storage layer still rejects the duplicate reference, so the lock is an
// optimization for the common path, not the correctness backstop.
package lock
