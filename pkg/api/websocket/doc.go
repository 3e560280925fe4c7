// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/events/ws to receive runtime events as
// they are emitted, optionally filtered to a single execution.
package websocket
