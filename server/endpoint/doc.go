// Package endpoint provides the built-in /health and /version handlers.
package endpoint
