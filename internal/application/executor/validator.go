package executor

import (
	"fmt"

	"github.com/strandlabs/strand/internal/domain"
)

// Validator validates graph structures before registration.
type Validator struct{}

// NewValidator creates a new graph validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks a graph specification. Conditional edge expressions are
// parsed here so a bad expression fails registration, not a live session.
func (v *Validator) Validate(g *domain.GraphSpec) error {
	if g == nil {
		return fmt.Errorf("graph is nil")
	}
	if g.ID == "" {
		return fmt.Errorf("graph ID is required")
	}
	if len(g.Nodes) == 0 {
		return fmt.Errorf("graph must have at least one node")
	}

	for nodeID, node := range g.Nodes {
		if err := v.validateNode(nodeID, node); err != nil {
			return fmt.Errorf("invalid node %s: %w", nodeID, err)
		}
	}

	if g.EntryNode != "" {
		if _, exists := g.Nodes[g.EntryNode]; !exists {
			return fmt.Errorf("entry node %s not found in graph", g.EntryNode)
		}
	}
	for name, ep := range g.EntryPoints {
		if _, exists := g.Nodes[ep.NodeID]; !exists {
			return fmt.Errorf("entry point %s references non-existent node: %s", name, ep.NodeID)
		}
	}
	for _, id := range g.TerminalNodes {
		if _, exists := g.Nodes[id]; !exists {
			return fmt.Errorf("terminal node %s not found in graph", id)
		}
	}
	for _, id := range g.PauseNodes {
		if _, exists := g.Nodes[id]; !exists {
			return fmt.Errorf("pause node %s not found in graph", id)
		}
	}

	for _, edge := range g.Edges {
		if _, exists := g.Nodes[edge.Source]; !exists {
			return fmt.Errorf("edge %s references non-existent source node: %s", edge.ID, edge.Source)
		}
		if _, exists := g.Nodes[edge.Target]; !exists {
			return fmt.Errorf("edge %s references non-existent target node: %s", edge.ID, edge.Target)
		}
		switch edge.Condition {
		case domain.ConditionOnSuccess, domain.ConditionOnFailure:
		case domain.ConditionExpression:
			if _, err := ParseCondition(edge.Expression); err != nil {
				return fmt.Errorf("edge %s has invalid condition: %w", edge.ID, err)
			}
		default:
			return fmt.Errorf("edge %s has unknown condition kind: %s", edge.ID, edge.Condition)
		}
	}

	return nil
}

func (v *Validator) validateNode(nodeID string, node *domain.NodeSpec) error {
	if nodeID == "" {
		return fmt.Errorf("node ID is required")
	}
	if node == nil {
		return fmt.Errorf("node is nil")
	}
	if node.ID != "" && node.ID != nodeID {
		return fmt.Errorf("node ID %q does not match map key %q", node.ID, nodeID)
	}
	if len(node.OutputKeys) == 0 {
		return fmt.Errorf("node must declare at least one output key")
	}
	if node.MaxNodeVisits < 0 {
		return fmt.Errorf("max_node_visits must be zero or positive")
	}
	switch node.Isolation {
	case "", domain.IsolationShared, domain.IsolationIsolated:
	default:
		return fmt.Errorf("unknown isolation level: %s", node.Isolation)
	}
	return nil
}
