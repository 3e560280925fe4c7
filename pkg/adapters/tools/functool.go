package tools

import (
	"context"

	"github.com/strandlabs/strand/internal/ports"
)

// FuncTool wraps a plain function as a Tool. Useful for wiring small
// in-process tools without a dedicated type.
type FuncTool struct {
	spec      ports.ToolSpec
	fn        func(ctx context.Context, inputs map[string]any) (*ports.ToolResult, error)
	retryable bool
}

// NewFuncTool builds a FuncTool from a spec and a call function.
func NewFuncTool(spec ports.ToolSpec, fn func(ctx context.Context, inputs map[string]any) (*ports.ToolResult, error)) *FuncTool {
	return &FuncTool{spec: spec, fn: fn}
}

// WithRetry marks the tool as safe to retry on failure.
func (t *FuncTool) WithRetry() *FuncTool {
	t.retryable = true
	return t
}

func (t *FuncTool) Spec() ports.ToolSpec { return t.spec }

func (t *FuncTool) Retryable() bool { return t.retryable }

func (t *FuncTool) Call(ctx context.Context, inputs map[string]any) (*ports.ToolResult, error) {
	return t.fn(ctx, inputs)
}
