// Package ioratio fits input/output coefficients for the instances of a
// topology. For every operator that both receives and emits records, the
// relationship between its input and output amounts is assumed to be
// approximately linear: the total emitted on an output stream over a time
// bucket is the sum of the amounts received on each input stream times a
// per-stream coefficient. The coefficients are recovered with least squares
// regression over equal-length time buckets and feed the arrival rate
// propagation.
package ioratio
