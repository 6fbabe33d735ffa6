// Package tracker is the HTTP client for the coordination service that
// knows every running topology: its logical plan, physical plan, packing
// plan and when its structure last changed.
//
// Responses arrive in a status envelope; the client unwraps it, maps HTTP
// and envelope failures onto the shared error codes, and decodes the result
// into the topology plan documents.
package tracker
