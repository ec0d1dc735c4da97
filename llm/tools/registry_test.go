package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/types"
)

func echoTool(name string, required ...string) Tool {
	return Tool{
		Name:       name,
		Required:   required,
		Capability: CapabilityCompute,
		Func: func(_ context.Context, params map[string]any) (Result, error) {
			return OK(map[string]any{"echo": params}), nil
		},
	}
}

func TestRegistry_RegisterAndList(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(echoTool("b")))
	require.NoError(t, r.Register(echoTool("a")))

	err := r.Register(echoTool("a"))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("c"))

	tool, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, DefaultTimeout, tool.Timeout)

	schemas := r.Schemas()
	require.Len(t, schemas, 2)
	assert.JSONEq(t, `{"type":"object"}`, string(schemas[0].Parameters))
}

func TestRegistry_RegisterRejectsIncompleteTool(t *testing.T) {
	r := NewRegistry(nil)
	assert.Error(t, r.Register(Tool{Func: echoTool("x").Func}))
	assert.Error(t, r.Register(Tool{Name: "x"}))
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(echoTool("get_klines", "symbol"))

	assert.NoError(t, r.Validate("get_klines", map[string]any{"symbol": "BTCUSDT"}))

	err := r.Validate("get_klines", map[string]any{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrToolValidation))
	assert.Contains(t, err.Error(), "symbol")

	err = r.Validate("nope", nil)
	assert.True(t, types.IsErrorCode(err, types.ErrToolNotFound))
}

func TestRegistry_InvokeSuccessAndFailures(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(echoTool("echo", "x"))
	r.MustRegister(Tool{Name: "soft_fail", Func: func(context.Context, map[string]any) (Result, error) {
		return Result{Success: false}, nil
	}})
	r.MustRegister(Tool{Name: "hard_fail", Func: func(context.Context, map[string]any) (Result, error) {
		return Result{}, errors.New("exchange down")
	}})

	ctx := context.Background()

	res := r.Invoke(ctx, "echo", map[string]any{"x": 1})
	assert.True(t, res.Success)
	assert.NotNil(t, res.Payload["echo"])

	res = r.Invoke(ctx, "echo", map[string]any{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "missing required")

	res = r.Invoke(ctx, "missing", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "unknown tool: missing", res.Error)

	res = r.Invoke(ctx, "soft_fail", nil)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	res = r.Invoke(ctx, "hard_fail", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "exchange down", res.Error)
}

func TestRegistry_InvokeTimeout(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(Tool{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Func: func(ctx context.Context, _ map[string]any) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	})

	res := r.Invoke(context.Background(), "slow", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timeout")
	assert.Less(t, res.Duration, time.Second)
}

func TestRegistry_InvokeCancelled(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(Tool{
		Name: "blocking",
		Func: func(ctx context.Context, _ map[string]any) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := r.Invoke(ctx, "blocking", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "cancelled", res.Error)
}

func TestRegistry_InvokeRecoversPanic(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(Tool{Name: "boom", Func: func(context.Context, map[string]any) (Result, error) {
		panic("nil map")
	}})

	res := r.Invoke(context.Background(), "boom", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panicked")
}

func TestRegistry_RateLimit(t *testing.T) {
	r := NewRegistry(nil)
	tool := echoTool("limited")
	tool.Timeout = 30 * time.Millisecond
	tool.RateLimit = &RateLimit{PerSecond: 0.1, Burst: 1}
	r.MustRegister(tool)

	assert.True(t, r.Invoke(context.Background(), "limited", nil).Success)

	res := r.Invoke(context.Background(), "limited", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "rate limited")
}

func TestRegistry_Subset(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(echoTool("a"))
	r.MustRegister(echoTool("b"))

	sub, err := r.Subset("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, sub.Names())
	assert.False(t, sub.Invoke(context.Background(), "a", nil).Success)

	_, err = r.Subset("b", "zzz")
	assert.True(t, types.IsErrorCode(err, types.ErrToolNotFound))
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{
		"symbol": "ETHUSDT",
		"limit":  float64(50),
		"closes": []any{1.0, 2, 3.5},
		"bad":    []any{"x"},
	}

	s, ok := ParamString(params, "symbol")
	assert.True(t, ok)
	assert.Equal(t, "ETHUSDT", s)

	assert.Equal(t, 50, ParamInt(params, "limit", 10))
	assert.Equal(t, 10, ParamInt(params, "missing", 10))

	closes, err := ParamFloats(params, "closes")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3.5}, closes)

	_, err = ParamFloats(params, "bad")
	assert.Error(t, err)
}
