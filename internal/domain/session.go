package domain

import "time"

// SessionStatus is the lifecycle state of a workflow session.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Memory is the key/value state shared across a session's nodes. Only the
// executor mutates it, after a node's output validates.
type Memory map[string]any

// Clone returns a shallow copy. Values are treated as immutable once written.
func (m Memory) Clone() Memory {
	c := make(Memory, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Session is the mutable state of one workflow execution.
type Session struct {
	ID              string         `json:"id"`
	GraphID         string         `json:"graph_id"`
	ExecutionID     string         `json:"execution_id"`
	Status          SessionStatus  `json:"status"`
	CurrentNode     string         `json:"current_node"`
	ExecutionPath   []string       `json:"execution_path"`
	NodeVisitCounts map[string]int `json:"node_visit_counts"`
	Memory          Memory         `json:"memory"`
	InputData       Memory         `json:"input_data,omitempty"`
	Error           string         `json:"error,omitempty"`
	PausedAt        string         `json:"paused_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// Checkpoint is an immutable full-state snapshot written at node transitions.
type Checkpoint struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	GraphID         string         `json:"graph_id"`
	NodeID          string         `json:"node_id"`
	Status          SessionStatus  `json:"status"`
	ExecutionPath   []string       `json:"execution_path"`
	NodeVisitCounts map[string]int `json:"node_visit_counts"`
	Memory          Memory         `json:"memory"`
	CreatedAt       time.Time      `json:"created_at"`
}

// NewCheckpoint snapshots a session. Slices and maps are copied so later
// session mutation cannot reach back into the checkpoint.
func NewCheckpoint(id string, s *Session) *Checkpoint {
	path := make([]string, len(s.ExecutionPath))
	copy(path, s.ExecutionPath)
	visits := make(map[string]int, len(s.NodeVisitCounts))
	for k, v := range s.NodeVisitCounts {
		visits[k] = v
	}
	return &Checkpoint{
		ID:              id,
		SessionID:       s.ID,
		GraphID:         s.GraphID,
		NodeID:          s.CurrentNode,
		Status:          s.Status,
		ExecutionPath:   path,
		NodeVisitCounts: visits,
		Memory:          s.Memory.Clone(),
		CreatedAt:       time.Now().UTC(),
	}
}

// StepVerdict classifies the outcome of one recorded step.
type StepVerdict string

const (
	VerdictPositive StepVerdict = "positive"
	VerdictNegative StepVerdict = "negative"
	VerdictNeutral  StepVerdict = "neutral"
)

// StepRecord is one append-only entry in a session's step log.
type StepRecord struct {
	SessionID string      `json:"session_id"`
	NodeID    string      `json:"node_id"`
	Turn      int         `json:"turn"`
	Verdict   StepVerdict `json:"verdict,omitempty"`
	Summary   string      `json:"summary,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
