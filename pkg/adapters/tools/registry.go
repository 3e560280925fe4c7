package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/ports"
)

// Tool is one callable adapter behind the uniform invocation contract.
type Tool interface {
	Spec() ports.ToolSpec
	Call(ctx context.Context, inputs map[string]any) (*ports.ToolResult, error)
}

// Retryable marks a tool whose failures are safe to retry (idempotent calls,
// read-only lookups). Non-retryable tools fail on the first error.
type Retryable interface {
	Retryable() bool
}

// Registry is the tool invoker: a name-indexed set of tools with bounded
// exponential-backoff retry for tools that declare themselves retryable.
type Registry struct {
	logger     *zap.Logger
	maxRetries int

	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger, maxRetries int) *Registry {
	return &Registry{
		logger:     logger,
		maxRetries: maxRetries,
		tools:      make(map[string]Tool),
	}
}

// Register adds a tool. Names are unique.
func (r *Registry) Register(tool Tool) error {
	spec := tool.Spec()
	if spec.Name == "" {
		return fmt.Errorf("tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	r.tools[spec.Name] = tool
	return nil
}

// Specs returns the specs for the named tools, skipping unknown names.
func (r *Registry) Specs(names []string) []ports.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]ports.ToolSpec, 0, len(names))
	for _, name := range names {
		if tool, ok := r.tools[name]; ok {
			specs = append(specs, tool.Spec())
		}
	}
	return specs
}

// Call invokes a named tool. The caller supplies the per-call timeout via
// ctx; a timeout is a normal failure outcome, not a crash. Retryable tools
// get bounded exponential backoff within that same deadline.
func (r *Registry) Call(ctx context.Context, name string, inputs map[string]any) (*ports.ToolResult, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	retryable := false
	if rt, ok := tool.(Retryable); ok {
		retryable = rt.Retryable()
	}

	var result *ports.ToolResult
	attempt := func() error {
		res, err := tool.Call(ctx, inputs)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	if !retryable {
		if err := attempt(); err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		return result, nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(r.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, fmt.Errorf("tool %s: retries exhausted: %w", name, err)
	}
	return result, nil
}
