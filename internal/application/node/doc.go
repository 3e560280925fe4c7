// Package node implements the per-node turn loop: an explicit state machine
// over STREAMING, TOOL_DISPATCH and NEXT_TURN/DONE phases driving iterative
// LLM exchanges, tool dispatch, context compaction and the node output
// contract.
package node
