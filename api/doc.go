// Package api exposes the prediction pipelines over HTTP.
//
// A Handler registers the model routes on a gin engine:
//
//	GET  /streamsight/model/topology/current/:cluster/:environ/:topology
//	POST /streamsight/model/topology/proposed/:cluster/:environ/:topology
//	GET  /streamsight/model/traffic/:cluster/:environ/:topology
//	GET  /streamsight/topologies
//
// Topology model runs answer 200 with partial per-model failure entries
// beside the results when at least one requested model succeeded; requests
// that cannot produce anything render the AppError shape with its mapped
// status. Bearer token authentication (HS256) guards the routes when a
// signing secret is configured.
package api
