// Package executor implements the core graph execution logic.
//
// The manager drives whole sessions from trigger to terminal state:
//   - Validating and registering graph specifications
//   - Running one node at a time per session with visit-limit enforcement
//   - Evaluating outbound edges in priority order via a closed condition grammar
//   - Writing checkpoints at node transitions for resume and replay
//   - Pausing for human input and resuming when it is injected
//   - Publishing lifecycle events to the bus
package executor
