package domain

// TriggerKind describes how an entry point is activated.
type TriggerKind string

const (
	TriggerManual TriggerKind = "manual"
	TriggerEvent  TriggerKind = "event"
	TriggerTimer  TriggerKind = "timer"
)

// ConditionKind describes how an edge decides whether to fire.
type ConditionKind string

const (
	ConditionOnSuccess  ConditionKind = "on_success"
	ConditionOnFailure  ConditionKind = "on_failure"
	ConditionExpression ConditionKind = "conditional"
)

// IsolationLevel controls which memory scope a node invocation receives.
type IsolationLevel string

const (
	IsolationShared   IsolationLevel = "shared"
	IsolationIsolated IsolationLevel = "isolated"
)

// EntryPoint is a named, externally triggerable starting node.
type EntryPoint struct {
	ID      string      `json:"id"`
	NodeID  string      `json:"node_id"`
	Trigger TriggerKind `json:"trigger"`
}

// LoopConfig bounds the per-node turn loop.
type LoopConfig struct {
	MaxIterations       int `json:"max_iterations"`
	MaxToolCallsPerTurn int `json:"max_tool_calls_per_turn"`
	MaxHistoryTokens    int `json:"max_history_tokens"`
}

// SuccessCriterion is one weighted goal used for progress reporting.
type SuccessCriterion struct {
	Key    string  `json:"key"`
	Weight float64 `json:"weight"`
}

// NodeSpec describes one workflow step.
type NodeSpec struct {
	ID                 string             `json:"id"`
	Type               string             `json:"type"`
	Prompt             string             `json:"prompt"`
	InputKeys          []string           `json:"input_keys,omitempty"`
	OutputKeys         []string           `json:"output_keys"`
	NullableOutputKeys []string           `json:"nullable_output_keys,omitempty"`
	SuccessCriteria    []SuccessCriterion `json:"success_criteria,omitempty"`
	Tools              []string           `json:"tools,omitempty"`
	ClientFacing       bool               `json:"client_facing,omitempty"`
	// MaxNodeVisits of 0 means unlimited.
	MaxNodeVisits int            `json:"max_node_visits,omitempty"`
	Isolation     IsolationLevel `json:"isolation,omitempty"`
}

// RequiredOutputKeys returns output keys that must be non-null for success.
func (n *NodeSpec) RequiredOutputKeys() []string {
	nullable := make(map[string]bool, len(n.NullableOutputKeys))
	for _, k := range n.NullableOutputKeys {
		nullable[k] = true
	}
	required := make([]string, 0, len(n.OutputKeys))
	for _, k := range n.OutputKeys {
		if !nullable[k] {
			required = append(required, k)
		}
	}
	return required
}

// EdgeSpec is a conditional transition between nodes. Lower Priority values
// win; edges with equal priority fire in declaration order.
type EdgeSpec struct {
	ID        string        `json:"id"`
	Source    string        `json:"source"`
	Target    string        `json:"target"`
	Condition ConditionKind `json:"condition"`
	// Expression is interpreted only when Condition is "conditional".
	Expression string `json:"expression,omitempty"`
	Priority   int    `json:"priority,omitempty"`
}

// GraphSpec is an immutable workflow definition.
type GraphSpec struct {
	ID            string                `json:"id"`
	Version       string                `json:"version"`
	EntryNode     string                `json:"entry_node"`
	EntryPoints   map[string]EntryPoint `json:"entry_points,omitempty"`
	Nodes         map[string]*NodeSpec  `json:"nodes"`
	Edges         []EdgeSpec            `json:"edges,omitempty"`
	TerminalNodes []string              `json:"terminal_nodes,omitempty"`
	PauseNodes    []string              `json:"pause_nodes,omitempty"`
	Loop          LoopConfig            `json:"loop_config"`
}

// IsTerminal reports whether nodeID is declared terminal.
func (g *GraphSpec) IsTerminal(nodeID string) bool {
	for _, id := range g.TerminalNodes {
		if id == nodeID {
			return true
		}
	}
	return false
}

// IsPauseNode reports whether nodeID pauses for human input.
func (g *GraphSpec) IsPauseNode(nodeID string) bool {
	for _, id := range g.PauseNodes {
		if id == nodeID {
			return true
		}
	}
	return false
}

// OutboundEdges returns the edges leaving nodeID in declaration order.
func (g *GraphSpec) OutboundEdges(nodeID string) []EdgeSpec {
	var out []EdgeSpec
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}
