// Package telemetry provides a uniform client interface over the metric
// stores that hold a topology's runtime measurements. Three backends are
// supported: the coordination service's short-horizon timeline store, an
// aggregating time-series database, and an InfluxQL server. All of them
// return rows of one shape so the estimation pipeline never cares where a
// number came from.
package telemetry
