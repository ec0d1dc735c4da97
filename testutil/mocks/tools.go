// 工具的测试模拟实现。
//
// 支持固定结果、故障注入（失败、超时、panic）与调用记录。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentcouncil/llm/tools"
)

// ToolCall 记录单次工具调用
type ToolCall struct {
	Name    string
	Args    map[string]any
	Started time.Time
	Result  tools.Result
	Err     error
}

// ToolRecorder 包装工具并记录调用，可统计最大并发度
type ToolRecorder struct {
	mu          sync.Mutex
	calls       []ToolCall
	inFlight    int
	maxInFlight int
}

// NewToolRecorder 创建调用记录器
func NewToolRecorder() *ToolRecorder {
	return &ToolRecorder{}
}

// Wrap 返回记录调用的工具副本
func (r *ToolRecorder) Wrap(tool tools.Tool) tools.Tool {
	inner := tool.Func
	tool.Func = func(ctx context.Context, args map[string]any) (tools.Result, error) {
		r.mu.Lock()
		r.inFlight++
		if r.inFlight > r.maxInFlight {
			r.maxInFlight = r.inFlight
		}
		started := time.Now()
		r.mu.Unlock()

		res, err := inner(ctx, args)

		r.mu.Lock()
		r.inFlight--
		r.calls = append(r.calls, ToolCall{Name: tool.Name, Args: args, Started: started, Result: res, Err: err})
		r.mu.Unlock()
		return res, err
	}
	return tool
}

// GetCalls 返回所有已完成的调用
func (r *ToolRecorder) GetCalls() []ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ToolCall(nil), r.calls...)
}

// GetCallCount 返回已完成的调用次数
func (r *ToolRecorder) GetCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// GetCallsForTool 返回指定工具的调用
func (r *ToolRecorder) GetCallsForTool(name string) []ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ToolCall
	for _, c := range r.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// MaxInFlight 返回观察到的最大并发调用数
func (r *ToolRecorder) MaxInFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}

// --- 预设工具工厂函数 ---

// StaticTool 总是返回给定 payload 的工具
func StaticTool(name string, payload map[string]any, required ...string) tools.Tool {
	return tools.Tool{
		Name:       name,
		Required:   required,
		Capability: tools.CapabilityCompute,
		Func: func(context.Context, map[string]any) (tools.Result, error) {
			return tools.OK(payload), nil
		},
	}
}

// EchoTool 把入参原样放回 payload 的 "args" 字段
func EchoTool(name string, required ...string) tools.Tool {
	return tools.Tool{
		Name:       name,
		Required:   required,
		Capability: tools.CapabilityCompute,
		Func: func(_ context.Context, args map[string]any) (tools.Result, error) {
			return tools.OK(map[string]any{"args": args}), nil
		},
	}
}

// FailingTool 总是以给定原因失败的工具
func FailingTool(name, reason string) tools.Tool {
	return tools.Tool{
		Name:       name,
		Capability: tools.CapabilityNetwork,
		Func: func(context.Context, map[string]any) (tools.Result, error) {
			return tools.Failf("%s", reason), nil
		},
	}
}

// SlowTool 在 delay 之后成功；ctx 先结束时返回 ctx 错误
func SlowTool(name string, delay time.Duration, payload map[string]any) tools.Tool {
	return tools.Tool{
		Name:       name,
		Capability: tools.CapabilityNetwork,
		Func: func(ctx context.Context, _ map[string]any) (tools.Result, error) {
			select {
			case <-ctx.Done():
				return tools.Result{}, ctx.Err()
			case <-time.After(delay):
				return tools.OK(payload), nil
			}
		},
	}
}

// HangingTool 一直阻塞到 ctx 结束
func HangingTool(name string) tools.Tool {
	return tools.Tool{
		Name:       name,
		Capability: tools.CapabilityNetwork,
		Func: func(ctx context.Context, _ map[string]any) (tools.Result, error) {
			<-ctx.Done()
			return tools.Result{}, ctx.Err()
		},
	}
}

// PanicTool 调用即 panic 的工具
func PanicTool(name string) tools.Tool {
	return tools.Tool{
		Name: name,
		Func: func(context.Context, map[string]any) (tools.Result, error) {
			panic("mock tool panic")
		},
	}
}
