package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/ports"
)

func echoTool(name string) *FuncTool {
	return NewFuncTool(
		ports.ToolSpec{Name: name, Description: "echoes its input"},
		func(ctx context.Context, inputs map[string]any) (*ports.ToolResult, error) {
			return &ports.ToolResult{Content: "echo"}, nil
		})
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(zap.NewNop(), 0)

	require.NoError(t, reg.Register(echoTool("echo")))
	require.Error(t, reg.Register(echoTool("echo")))
	require.Error(t, reg.Register(echoTool("")))
}

func TestSpecsSkipsUnknownNames(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(zap.NewNop(), 0)
	require.NoError(t, reg.Register(echoTool("echo")))

	specs := reg.Specs([]string{"echo", "missing"})
	require.Len(t, specs, 1)
	require.Equal(t, "echo", specs[0].Name)
}

func TestCallUnknownTool(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(zap.NewNop(), 0)

	_, err := reg.Call(context.Background(), "nope", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown tool")
}

func TestCallNonRetryableFailsOnFirstError(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	tool := NewFuncTool(
		ports.ToolSpec{Name: "flaky"},
		func(ctx context.Context, inputs map[string]any) (*ports.ToolResult, error) {
			attempts.Add(1)
			return nil, errors.New("boom")
		})

	reg := NewRegistry(zap.NewNop(), 3)
	require.NoError(t, reg.Register(tool))

	_, err := reg.Call(context.Background(), "flaky", nil)
	require.Error(t, err)
	require.Equal(t, int32(1), attempts.Load())
}

func TestCallRetryableRecovers(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	tool := NewFuncTool(
		ports.ToolSpec{Name: "flaky"},
		func(ctx context.Context, inputs map[string]any) (*ports.ToolResult, error) {
			if attempts.Add(1) < 2 {
				return nil, errors.New("transient")
			}
			return &ports.ToolResult{Content: "ok"}, nil
		}).WithRetry()

	reg := NewRegistry(zap.NewNop(), 3)
	require.NoError(t, reg.Register(tool))

	res, err := reg.Call(context.Background(), "flaky", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", res.Content)
	require.Equal(t, int32(2), attempts.Load())
}

func TestCallRetryableHonorsContextCancel(t *testing.T) {
	t.Parallel()
	tool := NewFuncTool(
		ports.ToolSpec{Name: "stuck"},
		func(ctx context.Context, inputs map[string]any) (*ports.ToolResult, error) {
			return nil, errors.New("always failing")
		}).WithRetry()

	reg := NewRegistry(zap.NewNop(), 10)
	require.NoError(t, reg.Register(tool))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := reg.Call(ctx, "stuck", nil)
	require.Error(t, err)
}
