package node

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain"
	"github.com/strandlabs/strand/internal/ports"
	eventbus "github.com/strandlabs/strand/pkg/adapters/events/memory"
)

// scriptedLLM replays one prepared event sequence per Stream call. When the
// script runs out it keeps answering with a plain text turn.
type scriptedLLM struct {
	mu       sync.Mutex
	turns    [][]ports.StreamEvent
	requests []*ports.CompletionRequest
}

func (s *scriptedLLM) script(events ...ports.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, events)
}

func (s *scriptedLLM) Stream(ctx context.Context, req *ports.CompletionRequest) (<-chan ports.StreamEvent, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var events []ports.StreamEvent
	if len(s.turns) > 0 {
		events = s.turns[0]
		s.turns = s.turns[1:]
	} else {
		events = []ports.StreamEvent{
			{Kind: ports.StreamText, Text: "thinking"},
			{Kind: ports.StreamDone},
		}
	}
	s.mu.Unlock()

	ch := make(chan ports.StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type toolInvocation struct {
	name string
	args map[string]any
}

// fakeTools is a canned tool invoker.
type fakeTools struct {
	mu      sync.Mutex
	calls   []toolInvocation
	results map[string]*ports.ToolResult
	errs    map[string]error
}

func newFakeTools() *fakeTools {
	return &fakeTools{
		results: make(map[string]*ports.ToolResult),
		errs:    make(map[string]error),
	}
}

func (f *fakeTools) Specs(names []string) []ports.ToolSpec {
	specs := make([]ports.ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, ports.ToolSpec{Name: name, Parameters: map[string]any{"type": "object"}})
	}
	return specs
}

func (f *fakeTools) Call(ctx context.Context, name string, inputs map[string]any) (*ports.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, toolInvocation{name: name, args: inputs})
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if res, ok := f.results[name]; ok {
		return res, nil
	}
	return &ports.ToolResult{Content: "ok"}, nil
}

func toolCallEvents(name string, args map[string]any) []ports.StreamEvent {
	data, _ := json.Marshal(args)
	half := len(data) / 2
	return []ports.StreamEvent{
		{Kind: ports.StreamToolCall, ToolName: name, Index: 0, ArgsFragment: string(data[:half])},
		{Kind: ports.StreamToolCall, Index: 0, ArgsFragment: string(data[half:])},
		{Kind: ports.StreamDone},
	}
}

func newNodeExecutor(t *testing.T, llm ports.LLMProvider, tools ports.ToolInvoker) *Executor {
	t.Helper()
	bus := eventbus.NewBus(zap.NewNop(), nil)
	t.Cleanup(func() { _ = bus.Close() })
	return NewExecutor(llm, tools, bus, nil, nil, zap.NewNop(), Config{
		Model:          "test-model",
		MaxTokens:      1024,
		StreamRetries:  0,
		RequestTimeout: 5 * time.Second,
		ToolTimeout:    time.Second,
	})
}

func testRequest(spec *domain.NodeSpec, memory domain.Memory) *Request {
	return &Request{
		Session: &domain.Session{ID: "sess-1", GraphID: "g1", ExecutionID: "exec-1"},
		Node:    spec,
		Loop:    domain.LoopConfig{MaxIterations: 5, MaxToolCallsPerTurn: 8, MaxHistoryTokens: 60000},
		Memory:  memory,
	}
}

func TestTurnLoopCompletesOnSetOutput(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{}
	llm.script(toolCallEvents(SetOutputTool, map[string]any{"report": "all good"})...)

	exec := newNodeExecutor(t, llm, newFakeTools())
	result := exec.Execute(context.Background(), testRequest(&domain.NodeSpec{
		ID:         "n1",
		Type:       "worker",
		OutputKeys: []string{"report"},
	}, domain.Memory{}))

	require.True(t, result.Success)
	require.Equal(t, "all good", result.Output["report"])
	require.Equal(t, 1, result.Turns)
}

func TestTurnLoopInvokesDomainToolThenFinishes(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{}
	llm.script(toolCallEvents("lookup", map[string]any{"query": "status"})...)
	llm.script(toolCallEvents(SetOutputTool, map[string]any{"report": "found it"})...)

	tools := newFakeTools()
	tools.results["lookup"] = &ports.ToolResult{Content: "status is green"}

	exec := newNodeExecutor(t, llm, tools)
	result := exec.Execute(context.Background(), testRequest(&domain.NodeSpec{
		ID:         "n1",
		Type:       "worker",
		Tools:      []string{"lookup"},
		OutputKeys: []string{"report"},
	}, domain.Memory{}))

	require.True(t, result.Success)
	require.Equal(t, 2, result.Turns)

	tools.mu.Lock()
	defer tools.mu.Unlock()
	require.Len(t, tools.calls, 1)
	require.Equal(t, "lookup", tools.calls[0].name)
	require.Equal(t, "status", tools.calls[0].args["query"])
}

func TestTurnLoopSurfacesToolErrorAndContinues(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{}
	llm.script(toolCallEvents("flaky", map[string]any{})...)
	llm.script(toolCallEvents(SetOutputTool, map[string]any{"report": "recovered"})...)

	tools := newFakeTools()
	tools.errs["flaky"] = errors.New("connection refused")

	exec := newNodeExecutor(t, llm, tools)
	result := exec.Execute(context.Background(), testRequest(&domain.NodeSpec{
		ID:         "n1",
		Type:       "worker",
		Tools:      []string{"flaky"},
		OutputKeys: []string{"report"},
	}, domain.Memory{}))

	require.True(t, result.Success)
	require.Equal(t, 2, result.Turns)
}

func TestTurnLoopMalformedArgumentsDegradeToErrorValue(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{}
	// First turn streams a truncated argument object.
	llm.script(
		ports.StreamEvent{Kind: ports.StreamToolCall, ToolName: SetOutputTool, Index: 0, ArgsFragment: `{"report": "trunc`},
		ports.StreamEvent{Kind: ports.StreamDone},
	)
	llm.script(toolCallEvents(SetOutputTool, map[string]any{"report": "complete"})...)

	tools := newFakeTools()
	exec := newNodeExecutor(t, llm, tools)
	result := exec.Execute(context.Background(), testRequest(&domain.NodeSpec{
		ID:         "n1",
		Type:       "worker",
		OutputKeys: []string{"report"},
	}, domain.Memory{}))

	require.True(t, result.Success)
	require.Equal(t, "complete", result.Output["report"])
	require.Equal(t, 2, result.Turns)

	// The malformed call never reached the invoker.
	tools.mu.Lock()
	defer tools.mu.Unlock()
	require.Empty(t, tools.calls)
}

func TestTurnLoopIncompleteOutputKeepsLooping(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{}
	llm.script(toolCallEvents(SetOutputTool, map[string]any{"report": "partial"})...)
	llm.script(toolCallEvents(SetOutputTool, map[string]any{"summary": "the rest"})...)

	exec := newNodeExecutor(t, llm, newFakeTools())
	result := exec.Execute(context.Background(), testRequest(&domain.NodeSpec{
		ID:         "n1",
		Type:       "worker",
		OutputKeys: []string{"report", "summary"},
	}, domain.Memory{}))

	require.True(t, result.Success)
	require.Equal(t, "partial", result.Output["report"])
	require.Equal(t, "the rest", result.Output["summary"])
	require.Equal(t, 2, result.Turns)
}

func TestTurnLoopIterationLimit(t *testing.T) {
	t.Parallel()
	// The default script is all text and no tool calls; the loop can never
	// satisfy the output contract.
	exec := newNodeExecutor(t, &scriptedLLM{}, newFakeTools())
	req := testRequest(&domain.NodeSpec{
		ID:         "n1",
		Type:       "worker",
		OutputKeys: []string{"report"},
	}, domain.Memory{})
	req.Loop.MaxIterations = 3

	result := exec.Execute(context.Background(), req)
	require.False(t, result.Success)
	require.Equal(t, domain.ReasonIterationLimit, result.Reason)
}

func TestTurnLoopRequestHumanInput(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{}
	llm.script(toolCallEvents(RequestInputTool, map[string]any{"question": "which region?"})...)

	exec := newNodeExecutor(t, llm, newFakeTools())
	result := exec.Execute(context.Background(), testRequest(&domain.NodeSpec{
		ID:           "n1",
		Type:         "worker",
		ClientFacing: true,
		OutputKeys:   []string{"report"},
	}, domain.Memory{}))

	require.False(t, result.Success)
	require.True(t, result.AwaitingInput)
	require.Equal(t, 1, result.Turns)
}

func TestTurnLoopStreamErrorFails(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{}
	llm.script(ports.StreamEvent{Kind: ports.StreamError, Err: errors.New("connection reset")})

	exec := newNodeExecutor(t, llm, newFakeTools())
	result := exec.Execute(context.Background(), testRequest(&domain.NodeSpec{
		ID:         "n1",
		Type:       "worker",
		OutputKeys: []string{"report"},
	}, domain.Memory{}))

	require.False(t, result.Success)
	require.Equal(t, domain.ReasonStreamError, result.Reason)
	require.Contains(t, result.Error, "connection reset")
}

func TestTurnLoopCancelledBeforeStart(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := newNodeExecutor(t, &scriptedLLM{}, newFakeTools())
	result := exec.Execute(ctx, testRequest(&domain.NodeSpec{
		ID:         "n1",
		Type:       "worker",
		OutputKeys: []string{"report"},
	}, domain.Memory{}))

	require.False(t, result.Success)
	require.Equal(t, domain.ReasonCancelled, result.Reason)
}

func TestTurnLoopExposesControlTools(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{}
	llm.script(toolCallEvents(SetOutputTool, map[string]any{"report": "x"})...)

	exec := newNodeExecutor(t, llm, newFakeTools())
	exec.Execute(context.Background(), testRequest(&domain.NodeSpec{
		ID:           "n1",
		Type:         "worker",
		ClientFacing: true,
		Tools:        []string{"lookup"},
		OutputKeys:   []string{"report"},
	}, domain.Memory{}))

	llm.mu.Lock()
	defer llm.mu.Unlock()
	require.NotEmpty(t, llm.requests)
	names := make([]string, 0, len(llm.requests[0].Tools))
	for _, spec := range llm.requests[0].Tools {
		names = append(names, spec.Name)
	}
	require.Contains(t, names, "lookup")
	require.Contains(t, names, SetOutputTool)
	require.Contains(t, names, RequestInputTool)
}

func TestTurnLoopTruncatesToolCallsPerTurn(t *testing.T) {
	t.Parallel()
	llm := &scriptedLLM{}
	data, _ := json.Marshal(map[string]any{})
	llm.script(
		ports.StreamEvent{Kind: ports.StreamToolCall, ToolName: "a", Index: 0, ArgsFragment: string(data)},
		ports.StreamEvent{Kind: ports.StreamToolCall, ToolName: "b", Index: 1, ArgsFragment: string(data)},
		ports.StreamEvent{Kind: ports.StreamToolCall, ToolName: "c", Index: 2, ArgsFragment: string(data)},
		ports.StreamEvent{Kind: ports.StreamDone},
	)
	llm.script(toolCallEvents(SetOutputTool, map[string]any{"report": "done"})...)

	tools := newFakeTools()
	exec := newNodeExecutor(t, llm, tools)
	req := testRequest(&domain.NodeSpec{
		ID:         "n1",
		Type:       "worker",
		Tools:      []string{"a", "b", "c"},
		OutputKeys: []string{"report"},
	}, domain.Memory{})
	req.Loop.MaxToolCallsPerTurn = 2

	result := exec.Execute(context.Background(), req)
	require.True(t, result.Success)

	tools.mu.Lock()
	defer tools.mu.Unlock()
	require.Len(t, tools.calls, 2)
	require.Equal(t, "a", tools.calls[0].name)
	require.Equal(t, "b", tools.calls[1].name)
}
