package domain

// GoalProgress is a pure read of how far a session has advanced against its
// declared success criteria weights.
type GoalProgress struct {
	ExecutionID  string        `json:"execution_id"`
	SessionID    string        `json:"session_id"`
	Status       SessionStatus `json:"status"`
	NodesVisited int           `json:"nodes_visited"`
	// SatisfiedWeight sums the weights of criteria whose key is present and
	// non-null in memory; Ratio is SatisfiedWeight over TotalWeight.
	SatisfiedWeight float64 `json:"satisfied_weight"`
	TotalWeight     float64 `json:"total_weight"`
	Ratio           float64 `json:"ratio"`
}
