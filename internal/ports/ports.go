package ports

import (
	"context"
	"time"

	"github.com/strandlabs/strand/internal/domain"
)

// EventHandler consumes one event. A handler error or panic is logged by the
// bus and never reaches other subscribers or the producer.
type EventHandler func(ctx context.Context, event domain.Event) error

// SubscribeOptions tune one subscription.
type SubscribeOptions struct {
	// QueueSize bounds the subscriber's private queue. Zero picks the bus
	// default.
	QueueSize int
	// ExcludeGraphID drops events from the named graph before they enter the
	// queue, so a monitor never re-triggers on its own output.
	ExcludeGraphID string
}

// EventBus is typed pub/sub with per-subscriber backpressure. Critical
// lifecycle events are handed off with a bounded blocking wait and are never
// dropped; telemetry events are dropped silently when a queue is full.
type EventBus interface {
	Subscribe(eventTypes []domain.EventType, handler EventHandler, opts *SubscribeOptions) (string, error)
	// Unsubscribe is an idempotent no-op on an unknown id.
	Unsubscribe(subscriptionID string)
	Emit(ctx context.Context, event domain.Event)
	Close() error
}

// SessionStore persists sessions, step logs and checkpoints. Implementations
// must distinguish a missing record (domain.ErrNotFound) from unreadable
// state (domain.ErrReadError); corrupt data is never treated as empty.
type SessionStore interface {
	SaveSession(ctx context.Context, s *domain.Session) error
	LoadSession(ctx context.Context, sessionID string) (*domain.Session, error)
	AppendStep(ctx context.Context, rec *domain.StepRecord) error
	ReadSteps(ctx context.Context, sessionID string) ([]domain.StepRecord, error)
	SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error
	LoadCheckpoint(ctx context.Context, checkpointID string) (*domain.Checkpoint, error)
}

// StreamEventKind tags one element of an LLM response stream.
type StreamEventKind string

const (
	StreamText     StreamEventKind = "text"
	StreamToolCall StreamEventKind = "tool_call"
	StreamDone     StreamEventKind = "done"
	StreamError    StreamEventKind = "error"
)

// StreamEvent is one element of a lazy, finite, non-restartable response
// stream. ToolCall argument fragments grow incrementally across events that
// share an Index.
type StreamEvent struct {
	Kind StreamEventKind
	Text string
	// ToolName and Index identify an in-progress tool call; ArgsFragment is
	// the next chunk of its argument text.
	ToolName     string
	Index        int
	ArgsFragment string
	Err          error
}

// Message is one turn of LLM conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCallID links a tool result back to the call that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// CompletionRequest asks the provider for one streamed turn.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// LLMProvider is the pluggable streaming inference abstraction. Stream blocks
// until the first event is available or ctx is done; the returned channel is
// closed after a StreamDone or StreamError element.
type LLMProvider interface {
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamEvent, error)
}

// ToolSpec describes one callable tool.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolResult is the uniform outcome of a tool call.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// ToolInvoker executes named tools behind a uniform contract. Call honors
// ctx cancellation and its own per-call timeout.
type ToolInvoker interface {
	Specs(names []string) []ToolSpec
	Call(ctx context.Context, name string, inputs map[string]any) (*ToolResult, error)
}

// CredentialResolver maps a credential id to a bearer token and its expiry.
// Acquisition, refresh and storage live outside the runtime.
type CredentialResolver interface {
	Resolve(ctx context.Context, credentialID string) (token string, expiry time.Time, err error)
}

// MetricsCollector records runtime telemetry.
type MetricsCollector interface {
	RecordSessionTriggered(status string)
	RecordSessionFinished(status string, duration time.Duration)
	RecordNodeExecuted(nodeType, status string, duration time.Duration)
	RecordTurn(nodeType string)
	RecordToolCall(tool string, isError bool, duration time.Duration)
	RecordLLMLatency(model string, duration time.Duration)
	RecordEventEmitted(eventType string)
	RecordEventDropped(eventType string)
	RecordEscalation(severity string)
}

// DebugSink mirrors full turn detail to an append-only diagnostic stream.
// Sink failures never affect execution; Write has no error to return.
type DebugSink interface {
	Write(record map[string]any)
	Close() error
}
