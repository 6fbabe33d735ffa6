// Package queueing predicts per-instance waiting times and queue sizes
// from service and arrival statistics. Two interchangeable estimators are
// provided: a Markovian M/M/1-style model for Poisson arrivals with
// exponential service, and a Kingman-type heavy traffic approximation that
// works from the measured variability of both processes. An instance whose
// arrival rate reaches its service rate is flagged saturated instead of
// extrapolating the formulas through the singularity.
//
// Units are fixed across the package: times in milliseconds, rates in
// records per second, queue sizes in records.
package queueing
