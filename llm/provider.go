package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/agentcouncil/types"
)

// DefaultTimeout 单次 LLM 调用的默认超时（推理调用较大，独立于工具超时）
const DefaultTimeout = 120 * time.Second

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleModel 是部分 Provider（如 Gemini）使用的助手角色名
	RoleModel Role = "model"
)

type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

type ChatRequest struct {
	TraceID     string        `json:"trace_id,omitempty"`
	Model       string        `json:"model"`
	Messages    []Message     `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Tools       []ToolSchema  `json:"tools,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type ChatResponse struct {
	ID        string     `json:"id,omitempty"`
	Provider  string     `json:"provider,omitempty"`
	Model     string     `json:"model"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     ChatUsage  `json:"usage,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
}

// Provider 定义了统一的 LLM 适配接口。
// 核心逻辑只依赖 Completion；角色词汇映射由 TwoRoleProvider 等适配器负责。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}

// ProviderFunc 把普通函数适配为 Provider，主要用于测试与组合
type ProviderFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

func (f ProviderFunc) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return f(ctx, req)
}

func (f ProviderFunc) Name() string { return "func" }

// Complete 在 req.Timeout（缺省 DefaultTimeout）约束下调用 Provider，
// 并把超时与空响应统一为 types.Error。
func Complete(ctx context.Context, p Provider, req *ChatRequest) (*ChatResponse, error) {
	if p == nil {
		return nil, types.NewError(types.ErrProviderUnavailable, "llm provider not configured")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.Completion(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, types.WrapError(types.ErrUpstreamTimeout,
				fmt.Sprintf("llm call timed out after %s", timeout), err).
				WithRetryable(true).WithProvider(p.Name())
		}
		return nil, err
	}
	if resp == nil {
		return nil, types.NewError(types.ErrUpstreamError, "llm returned empty response").
			WithRetryable(true).WithProvider(p.Name())
	}
	return resp, nil
}
