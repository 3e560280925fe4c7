// Package storage provides session store implementations.
//
// Implementations:
//   - file: filesystem layout with status documents, JSONL step logs and
//     immutable checkpoint files (reference durable store)
//   - redis: Redis with JSON serialization and TTL
//   - memory: in-memory for testing
package storage
