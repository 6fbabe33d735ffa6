// Package server provides the HTTP server hosting the prediction API,
// backed by Gin with HTTP/2 cleartext (h2c) support.
//
// The server applies a standard middleware stack (recovery, request id,
// CORS, body-size limit, request logging) and registers the built-in
// /health and /version endpoints; the prediction routes are added by the
// api package on the same engine.
package server
