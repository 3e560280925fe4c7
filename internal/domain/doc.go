// Package domain holds the entities shared across the runtime: graph and node
// specifications, sessions and checkpoints, bus events, node results and
// escalation tickets. It has no dependencies on adapters or application code.
package domain
