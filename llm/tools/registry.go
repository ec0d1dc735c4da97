package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentcouncil/llm"
	"github.com/BaSui01/agentcouncil/types"
)

// DefaultTimeout 单次工具调用的默认超时
const DefaultTimeout = 30 * time.Second

// Capability 描述工具需要的外部能力，宿主可据此做权限或隔离
type Capability string

const (
	CapabilityNetwork Capability = "network"
	CapabilityCompute Capability = "compute"
	CapabilityBroker  Capability = "broker"
)

// Result 是一次工具调用的观察结果。Success=false 一律视为失败观察。
type Result struct {
	Success  bool           `json:"success"`
	Payload  map[string]any `json:"payload,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// OK 构造成功结果
func OK(payload map[string]any) Result {
	return Result{Success: true, Payload: payload}
}

// Failf 构造失败结果
func Failf(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Func 是工具实现签名。返回 error 与返回 Success=false 的 Result 等价。
type Func func(ctx context.Context, params map[string]any) (Result, error)

// RateLimit 令牌桶限流配置
type RateLimit struct {
	PerSecond float64
	Burst     int
}

// Tool 描述一个可注册的工具
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
	Required    []string
	Capability  Capability
	Timeout     time.Duration
	RateLimit   *RateLimit
	Func        Func
}

// Schema 返回交给 LLM 的工具描述
func (t Tool) Schema() llm.ToolSchema {
	params := t.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object"}`)
	}
	return llm.ToolSchema{Name: t.Name, Description: t.Description, Parameters: params}
}

type entry struct {
	tool    Tool
	limiter *rate.Limiter
}

// Registry 工具注册中心：名称 -> 可调用对象 + 参数约束 + 能力标签。
// 由 Subset 派生的注册表与父注册表共享限流器。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *zap.Logger
}

// NewRegistry 创建空的注册中心
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With(zap.String("component", "tool_registry")),
	}
}

// Register 注册工具，名称重复时报错
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return types.NewError(types.ErrInvalidRequest, "tool name is required")
	}
	if tool.Func == nil {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("tool %s has no implementation", tool.Name))
	}
	if tool.Timeout <= 0 {
		tool.Timeout = DefaultTimeout
	}
	tool.Required = append([]string(nil), tool.Required...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[tool.Name]; exists {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("tool %s already registered", tool.Name))
	}

	e := &entry{tool: tool}
	if tool.RateLimit != nil && tool.RateLimit.PerSecond > 0 {
		burst := tool.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(tool.RateLimit.PerSecond), burst)
	}
	r.entries[tool.Name] = e

	r.logger.Debug("tool registered",
		zap.String("name", tool.Name),
		zap.String("capability", string(tool.Capability)),
		zap.Duration("timeout", tool.Timeout))
	return nil
}

// MustRegister 注册失败时 panic，仅用于进程启动阶段
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names 返回按字典序排列的工具名
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List 返回按名称排序的工具列表
func (r *Registry) List() []Tool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		if e, ok := r.entries[n]; ok {
			out = append(out, e.tool)
		}
	}
	return out
}

// Schemas 返回所有工具的 LLM 描述
func (r *Registry) Schemas() []llm.ToolSchema {
	list := r.List()
	out := make([]llm.ToolSchema, 0, len(list))
	for _, t := range list {
		out = append(out, t.Schema())
	}
	return out
}

// Subset 派生只包含指定工具的注册表，用于给 Agent 分配工具子集
func (r *Registry) Subset(names ...string) (*Registry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub := &Registry{entries: make(map[string]*entry, len(names)), logger: r.logger}
	for _, n := range names {
		e, ok := r.entries[n]
		if !ok {
			return nil, types.NewError(types.ErrToolNotFound, fmt.Sprintf("tool %s not registered", n))
		}
		sub.entries[n] = e
	}
	return sub, nil
}

// Validate 校验工具存在且必填参数齐全
func (r *Registry) Validate(name string, params map[string]any) error {
	tool, ok := r.Get(name)
	if !ok {
		return types.NewError(types.ErrToolNotFound, fmt.Sprintf("unknown tool: %s", name))
	}
	var missing []string
	for _, key := range tool.Required {
		if _, ok := params[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return types.NewError(types.ErrToolValidation,
			fmt.Sprintf("tool %s missing required parameters: %v", name, missing))
	}
	return nil
}

// Invoke 校验并执行工具，失败总是体现在 Result 上而不是返回值错误。
// 每次调用受工具自身 Timeout 约束；工具 panic 会被恢复为失败结果。
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) Result {
	start := time.Now()
	if err := r.Validate(name, params); err != nil {
		res := Result{Error: err.Error()}
		if types.IsErrorCode(err, types.ErrToolNotFound) {
			res.Error = "unknown tool: " + name
		}
		res.Duration = time.Since(start)
		return res
	}

	r.mu.RLock()
	e := r.entries[name]
	r.mu.RUnlock()

	execCtx, cancel := context.WithTimeout(ctx, e.tool.Timeout)
	defer cancel()

	if e.limiter != nil {
		if err := e.limiter.Wait(execCtx); err != nil {
			r.logger.Warn("tool rate limited", zap.String("name", name), zap.Error(err))
			return Result{Error: fmt.Sprintf("rate limited: %v", err), Duration: time.Since(start)}
		}
	}

	// 带缓冲的 channel：超时后工具 goroutine 仍能写入并退出
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("tool panicked",
					zap.String("name", name),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()))
				done <- Failf("tool panicked: %v", p)
			}
		}()
		res, err := e.tool.Func(execCtx, params)
		if err != nil {
			res = Result{Error: err.Error()}
		} else if !res.Success && res.Error == "" {
			res.Error = "tool reported failure"
		}
		done <- res
	}()

	var res Result
	select {
	case res = <-done:
	case <-execCtx.Done():
		if ctx.Err() != nil {
			res = Failf("cancelled")
		} else {
			res = Failf("timeout after %s", e.tool.Timeout)
		}
	}
	res.Duration = time.Since(start)

	if res.Success {
		r.logger.Debug("tool executed", zap.String("name", name), zap.Duration("duration", res.Duration))
	} else {
		r.logger.Warn("tool failed",
			zap.String("name", name),
			zap.String("error", res.Error),
			zap.Duration("duration", res.Duration))
	}
	return res
}

// ParamString 从参数中读取字符串
func ParamString(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ParamInt 读取整数参数，兼容 JSON 解码得到的 float64
func ParamInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// ParamFloats 读取数值数组参数
func ParamFloats(params map[string]any, key string) ([]float64, error) {
	raw, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("missing %s", key)
	}
	switch v := raw.(type) {
	case []float64:
		return append([]float64(nil), v...), nil
	case []any:
		out := make([]float64, 0, len(v))
		for i, item := range v {
			switch n := item.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			case json.Number:
				f, err := n.Float64()
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
				}
				out = append(out, f)
			default:
				return nil, fmt.Errorf("%s[%d]: not a number", key, i)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected array of numbers", key)
	}
}
