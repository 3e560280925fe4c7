// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Graph registration and session triggering
//   - Resume, replay, cancellation and human input delivery
//   - Goal progress and session queries
//   - A server-sent-events stream of runtime events
//   - Health checks and Prometheus metrics
package http
