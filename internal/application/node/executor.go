package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain"
	"github.com/strandlabs/strand/internal/ports"
)

// Control tool names the loop intercepts instead of dispatching.
const (
	// SetOutputTool supplies the node's declared output keys.
	SetOutputTool = "set_output"
	// RequestInputTool asks for human input; the session pauses.
	RequestInputTool = "request_human_input"
)

// phase is the per-turn state machine position.
type phase int

const (
	phaseStreaming phase = iota
	phaseToolDispatch
	phaseNextTurn
	phaseDone
)

// Config tunes the node executor.
type Config struct {
	Model          string
	MaxTokens      int
	Temperature    float64
	StreamRetries  int
	RequestTimeout time.Duration
	ToolTimeout    time.Duration
}

// Executor runs one node's turn loop: stream a model response, dispatch the
// tool calls it requested, append results, repeat until an output contract,
// limit, or error ends the loop.
type Executor struct {
	llm     ports.LLMProvider
	tools   ports.ToolInvoker
	bus     ports.EventBus
	metrics ports.MetricsCollector
	sink    ports.DebugSink
	logger  *zap.Logger
	cfg     Config
}

// NewExecutor creates a node executor. sink may be nil when the diagnostic
// mirror is disabled.
func NewExecutor(
	llm ports.LLMProvider,
	tools ports.ToolInvoker,
	bus ports.EventBus,
	metrics ports.MetricsCollector,
	sink ports.DebugSink,
	logger *zap.Logger,
	cfg Config,
) *Executor {
	return &Executor{
		llm:     llm,
		tools:   tools,
		bus:     bus,
		metrics: metrics,
		sink:    sink,
		logger:  logger,
		cfg:     cfg,
	}
}

// Request is one node invocation. Memory is either the session's shared map
// or a private scope, selected by the graph executor per the node's isolation
// level.
type Request struct {
	Session *domain.Session
	Node    *domain.NodeSpec
	Loop    domain.LoopConfig
	Memory  domain.Memory
}

// Execute runs the turn loop to completion. Unexpected panics are converted
// to a failed NodeResult at this boundary; the caller never sees an exception
// escape a node.
func (e *Executor) Execute(ctx context.Context, req *Request) (result *domain.NodeResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("node execution panicked",
				zap.String("session_id", req.Session.ID),
				zap.String("node_id", req.Node.ID),
				zap.Any("panic", r))
			result = domain.NewFailureResult(req.Node.ID, domain.ReasonInternal, fmt.Errorf("panic: %v", r))
		}
	}()

	loop := &turnLoop{exec: e, req: req}
	return loop.run(ctx)
}

// turnLoop holds the mutable state of one Execute call.
type turnLoop struct {
	exec    *Executor
	req     *Request
	history []ports.Message
	outputs domain.Memory
	turn    int
}

func (l *turnLoop) run(ctx context.Context) *domain.NodeResult {
	e := l.exec
	req := l.req
	l.outputs = make(domain.Memory)
	l.history = []ports.Message{{Role: "user", Content: l.buildPrompt()}}

	var lastStreamErr error

	for l.turn = 1; ; l.turn++ {
		// Cancellation is cooperative: checked at turn boundaries only.
		if err := ctx.Err(); err != nil {
			return domain.NewFailureResult(req.Node.ID, domain.ReasonCancelled, err)
		}
		if l.turn > req.Loop.MaxIterations {
			return domain.NewFailureResult(req.Node.ID, domain.ReasonIterationLimit,
				fmt.Errorf("no terminal output after %d iterations", req.Loop.MaxIterations))
		}
		if tokens := estimateTokens(l.history); tokens > req.Loop.MaxHistoryTokens {
			l.history = compactHistory(l.history, 4)
			l.emitTelemetry(domain.EventContextCompact, map[string]any{
				"turn":          l.turn,
				"tokens_before": tokens,
			})
		}

		l.emitTelemetry(domain.EventTurnStarted, map[string]any{"turn": l.turn})
		if e.metrics != nil {
			e.metrics.RecordTurn(req.Node.Type)
		}

		state := phaseStreaming
		var outcome *streamOutcome
		var result *domain.NodeResult

		for state != phaseNextTurn && state != phaseDone {
			switch state {
			case phaseStreaming:
				outcome = l.streamTurn(ctx)
				if outcome.err != nil {
					lastStreamErr = outcome.err
					state = phaseDone
					result = domain.NewFailureResult(req.Node.ID, domain.ReasonStreamError, lastStreamErr)
					break
				}
				if outcome.text != "" {
					l.history = append(l.history, ports.Message{Role: "assistant", Content: outcome.text})
				}
				if len(outcome.calls) == 0 {
					// A turn with no tool calls cannot make progress toward
					// the output contract; nudge the model.
					l.history = append(l.history, ports.Message{
						Role:    "user",
						Content: fmt.Sprintf("Call %s with your final values for: %v", SetOutputTool, req.Node.OutputKeys),
					})
					state = phaseNextTurn
					break
				}
				state = phaseToolDispatch

			case phaseToolDispatch:
				done, res := l.dispatchTools(ctx, outcome.calls)
				if done {
					state = phaseDone
					result = res
				} else {
					state = phaseNextTurn
				}
			}
		}

		l.mirrorTurn(outcome, result)
		l.emitTelemetry(domain.EventTurnCompleted, map[string]any{"turn": l.turn})

		if state == phaseDone {
			return result
		}
	}
}

// streamTurn runs one STREAMING phase with bounded exponential-backoff retry
// on stream establishment and mid-stream failure.
func (l *turnLoop) streamTurn(ctx context.Context) *streamOutcome {
	e := l.exec
	creq := &ports.CompletionRequest{
		Model:       e.cfg.Model,
		System:      l.req.Node.Prompt,
		Messages:    l.history,
		Tools:       l.toolSpecs(),
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	}

	var outcome *streamOutcome
	attempt := func() error {
		streamCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()

		started := time.Now()
		ch, err := e.llm.Stream(streamCtx, creq)
		if err != nil {
			return err
		}
		outcome = collectStream(streamCtx, ch, func(text string) {
			l.emitTelemetry(domain.EventStreamDelta, map[string]any{"text": text, "turn": l.turn})
		})
		if e.metrics != nil {
			e.metrics.RecordLLMLatency(e.cfg.Model, time.Since(started))
		}
		if outcome.err != nil {
			return outcome.err
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.cfg.StreamRetries)),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		return &streamOutcome{err: err}
	}
	return outcome
}

// dispatchTools runs the TOOL_DISPATCH phase. It returns done=true with a
// final result when a control tool terminated the loop. Cancellation is
// checked between tool calls, never mid-call, so external side effects stay
// unambiguous.
func (l *turnLoop) dispatchTools(ctx context.Context, calls []*toolCall) (bool, *domain.NodeResult) {
	req := l.req

	if limit := req.Loop.MaxToolCallsPerTurn; limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}

	for i, call := range calls {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				return true, domain.NewFailureResult(req.Node.ID, domain.ReasonCancelled, err)
			}
		}

		args, parsed := ExtractArgs(call.args.String())
		if !parsed {
			// Malformed arguments degrade to an error value the model can
			// see and correct next turn; the loop never raises.
			l.appendToolResult(call.name, fmt.Sprintf(
				"error: arguments for %s were not a complete JSON object; raw fragment retained under %q", call.name, RawArgsKey), true)
			continue
		}

		switch call.name {
		case SetOutputTool:
			for k, v := range args {
				l.outputs[k] = v
			}
			if res, ok := l.finishIfComplete(); ok {
				return true, res
			}
			missing := l.missingOutputKeys()
			l.appendToolResult(call.name, fmt.Sprintf("still missing required output keys: %v", missing), true)

		case RequestInputTool:
			return true, &domain.NodeResult{
				NodeID:        req.Node.ID,
				Success:       false,
				AwaitingInput: true,
				Turns:         l.turn,
			}

		default:
			l.invokeTool(ctx, call.name, args)
		}
	}

	return false, nil
}

func (l *turnLoop) invokeTool(ctx context.Context, name string, args map[string]any) {
	e := l.exec

	l.emitTelemetry(domain.EventToolCallStart, map[string]any{"tool": name, "turn": l.turn})
	started := time.Now()

	// The call gets its own timeout but not the caller's cancellation: a
	// cancel arriving mid-call lets the call finish first.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ToolTimeout)
	defer cancel()

	res, err := e.tools.Call(callCtx, name, args)
	elapsed := time.Since(started)

	isErr := err != nil || (res != nil && res.IsError)
	if e.metrics != nil {
		e.metrics.RecordToolCall(name, isErr, elapsed)
	}
	l.emitTelemetry(domain.EventToolCallEnd, map[string]any{
		"tool": name, "turn": l.turn, "is_error": isErr, "duration_ms": elapsed.Milliseconds(),
	})

	if err != nil {
		l.appendToolResult(name, fmt.Sprintf("error: %v", err), true)
		return
	}
	l.appendToolResult(name, res.Content, res.IsError)
}

func (l *turnLoop) finishIfComplete() (*domain.NodeResult, bool) {
	if len(l.missingOutputKeys()) > 0 {
		return nil, false
	}
	res, err := domain.NewSuccessResult(l.req.Node, l.outputs)
	if err != nil {
		// Required key present but null; treat like missing.
		return nil, false
	}
	res.Turns = l.turn
	return res, true
}

func (l *turnLoop) missingOutputKeys() []string {
	var missing []string
	for _, key := range l.req.Node.RequiredOutputKeys() {
		if v, ok := l.outputs[key]; !ok || v == nil {
			missing = append(missing, key)
		}
	}
	return missing
}

func (l *turnLoop) appendToolResult(tool, content string, isError bool) {
	prefix := "result"
	if isError {
		prefix = "error"
	}
	l.history = append(l.history, ports.Message{
		Role:    "user",
		Content: fmt.Sprintf("[%s from %s] %s", prefix, tool, content),
	})
}

func (l *turnLoop) buildPrompt() string {
	req := l.req
	inputs := make(map[string]any)
	for _, key := range req.Node.InputKeys {
		if v, ok := req.Memory[key]; ok {
			inputs[key] = v
		}
	}

	data, _ := json.Marshal(inputs)
	return fmt.Sprintf(
		"Inputs: %s\n\nProduce the following output keys via the %s tool: %v. Keys %v may be null.",
		data, SetOutputTool, req.Node.OutputKeys, req.Node.NullableOutputKeys)
}

func (l *turnLoop) toolSpecs() []ports.ToolSpec {
	specs := l.exec.tools.Specs(l.req.Node.Tools)

	outputProps := make(map[string]any, len(l.req.Node.OutputKeys))
	for _, key := range l.req.Node.OutputKeys {
		outputProps[key] = map[string]any{"description": "value for " + key}
	}

	specs = append(specs,
		ports.ToolSpec{
			Name:        SetOutputTool,
			Description: "Record final output values for this step. Call once all required keys are known.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": outputProps,
			},
		})

	if l.req.Node.ClientFacing {
		specs = append(specs, ports.ToolSpec{
			Name:        RequestInputTool,
			Description: "Pause and ask the human operator for input before continuing.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{"type": "string"},
				},
			},
		})
	}
	return specs
}

// mirrorTurn writes full turn detail to the diagnostic sink when enabled.
// The sink contract guarantees failures stay inside the sink.
func (l *turnLoop) mirrorTurn(outcome *streamOutcome, result *domain.NodeResult) {
	if l.exec.sink == nil {
		return
	}
	record := map[string]any{
		"session_id": l.req.Session.ID,
		"node_id":    l.req.Node.ID,
		"turn":       l.turn,
		"history":    len(l.history),
	}
	if outcome != nil {
		record["text"] = outcome.text
		record["tool_calls"] = len(outcome.calls)
		if outcome.err != nil {
			record["stream_error"] = outcome.err.Error()
		}
	}
	if result != nil {
		record["success"] = result.Success
		record["reason"] = string(result.Reason)
	}
	l.exec.sink.Write(record)
}

func (l *turnLoop) emitTelemetry(t domain.EventType, payload map[string]any) {
	l.exec.bus.Emit(context.Background(), domain.Event{
		Type:        t,
		ExecutionID: l.req.Session.ExecutionID,
		GraphID:     l.req.Session.GraphID,
		NodeID:      l.req.Node.ID,
		StreamID:    l.req.Session.ID,
		Payload:     payload,
	})
}
