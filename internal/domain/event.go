package domain

import "time"

// EventType identifies a runtime event on the bus.
type EventType string

const (
	// Lifecycle events. These use the critical delivery class and are never
	// dropped.
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionPaused    EventType = "execution_paused"
	EventExecutionResumed   EventType = "execution_resumed"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionCancelled EventType = "execution_cancelled"
	EventNodeStarted        EventType = "node_started"
	EventNodeCompleted      EventType = "node_completed"
	EventNodeFailed         EventType = "node_failed"
	EventEscalationRaised   EventType = "escalation_raised"
	EventOperatorNotified   EventType = "operator_notified"

	// Telemetry events. High-frequency; delivered best effort and dropped
	// silently when a subscriber queue is full.
	EventTurnStarted    EventType = "turn_started"
	EventTurnCompleted  EventType = "turn_completed"
	EventStreamDelta    EventType = "stream_delta"
	EventToolCallStart  EventType = "tool_call_start"
	EventToolCallEnd    EventType = "tool_call_end"
	EventContextCompact EventType = "context_compacted"
	EventKeepalive      EventType = "keepalive"
)

// Critical reports whether t belongs to the must-not-drop delivery class.
func (t EventType) Critical() bool {
	switch t {
	case EventExecutionStarted, EventExecutionPaused, EventExecutionResumed,
		EventExecutionCompleted, EventExecutionFailed, EventExecutionCancelled,
		EventNodeStarted, EventNodeCompleted, EventNodeFailed,
		EventEscalationRaised, EventOperatorNotified:
		return true
	}
	return false
}

// AllEventTypes lists every event type a subscriber can ask for.
func AllEventTypes() []EventType {
	return []EventType{
		EventExecutionStarted, EventExecutionPaused, EventExecutionResumed,
		EventExecutionCompleted, EventExecutionFailed, EventExecutionCancelled,
		EventNodeStarted, EventNodeCompleted, EventNodeFailed,
		EventEscalationRaised, EventOperatorNotified,
		EventTurnStarted, EventTurnCompleted, EventStreamDelta,
		EventToolCallStart, EventToolCallEnd, EventContextCompact,
		EventKeepalive,
	}
}

// Event is one append-only record on the bus. A matching subscriber sees it
// exactly once, in emission order relative to its own other deliveries.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	StreamID    string         `json:"stream_id,omitempty"`
	GraphID     string         `json:"graph_id,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
}
