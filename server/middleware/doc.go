// Package middleware holds the Gin middleware applied by the server:
// panic recovery, request id propagation, CORS, body-size limiting,
// request logging and bearer-token authentication.
package middleware
