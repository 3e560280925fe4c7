// Package events provides event bus implementations.
//
// Implementations:
//   - memory: in-process bus with per-subscriber queues and two delivery
//     classes (critical lifecycle vs. drop-on-full telemetry)
//   - redis: Redis Streams mirror for out-of-process consumers
package events
