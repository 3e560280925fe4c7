package domain

import "fmt"

// FailureReason classifies why a node result failed.
type FailureReason string

const (
	ReasonIterationLimit FailureReason = "iteration_limit"
	ReasonVisitLimit     FailureReason = "visit_limit_exceeded"
	ReasonStreamError    FailureReason = "stream_error"
	ReasonToolError      FailureReason = "tool_error"
	ReasonMissingOutput  FailureReason = "missing_output"
	ReasonCancelled      FailureReason = "cancelled"
	ReasonInternal       FailureReason = "internal_error"
)

// NodeResult is the outcome of one node's turn loop. The executor uses the
// Success flag to pick between on_success and on_failure edges.
type NodeResult struct {
	NodeID  string        `json:"node_id"`
	Success bool          `json:"success"`
	Output  Memory        `json:"output,omitempty"`
	Reason  FailureReason `json:"reason,omitempty"`
	Error   string        `json:"error,omitempty"`
	// AwaitingInput marks a client-facing pause request.
	AwaitingInput bool `json:"awaiting_input,omitempty"`
	Turns         int  `json:"turns"`
}

// NewSuccessResult builds a successful result, rejecting it before any memory
// write if a required output key is absent or null.
func NewSuccessResult(node *NodeSpec, output Memory) (*NodeResult, error) {
	for _, key := range node.RequiredOutputKeys() {
		v, ok := output[key]
		if !ok || v == nil {
			return nil, fmt.Errorf("node %s: required output key %q is missing or null", node.ID, key)
		}
	}
	return &NodeResult{NodeID: node.ID, Success: true, Output: output}, nil
}

// NewFailureResult builds a failed result with a reason the edge router and
// operators can act on.
func NewFailureResult(nodeID string, reason FailureReason, err error) *NodeResult {
	r := &NodeResult{NodeID: nodeID, Success: false, Reason: reason}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
