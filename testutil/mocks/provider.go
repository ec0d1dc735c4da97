// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持固定响应、按顺序编排的脚本响应、延迟与错误注入场景。
package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentcouncil/llm"
)

// --- MockProvider 结构 ---

// Reply 是脚本中的一次响应；Err 非空时本次调用返回错误
type Reply struct {
	Content string
	Err     error
	Delay   time.Duration
}

// MockProvider 是 LLM Provider 的模拟实现
type MockProvider struct {
	mu sync.RWMutex

	name string

	// 响应配置
	response string
	err      error
	script   []Reply

	// Token 使用统计
	promptTokens     int
	completionTokens int

	// 调用记录
	calls          []MockProviderCall
	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	// 行为控制
	delay     time.Duration
	failAfter int // 在第 N 次调用后失败
	callCount int
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:             "mock",
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithName 设置 Provider 名称
func (m *MockProvider) WithName(name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithResponse 设置脚本耗尽后的固定响应
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置脚本耗尽后的固定错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithScript 追加按调用顺序消费的响应
func (m *MockProvider) WithScript(replies ...Reply) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
	return m
}

// WithReplies 是 WithScript 的简写，只包含文本响应
func (m *MockProvider) WithReplies(contents ...string) *MockProvider {
	replies := make([]Reply, 0, len(contents))
	for _, c := range contents {
		replies = append(replies, Reply{Content: c})
	}
	return m.WithScript(replies...)
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithDelay 设置每次响应的延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 设置在第 N 次调用后失败
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithCompletionFunc 设置自定义 Completion 函数，优先于脚本与固定响应
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Completion 执行补全请求
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.callCount++
	count := m.callCount
	fn := m.completionFunc
	delay := m.delay

	var reply Reply
	if len(m.script) > 0 {
		reply = m.script[0]
		m.script = m.script[1:]
	} else {
		reply = Reply{Content: m.response, Err: m.err}
	}
	if m.failAfter > 0 && count > m.failAfter {
		reply.Err = errors.New("mock provider: fail after limit reached")
	}
	if reply.Delay > 0 {
		delay = reply.Delay
	}
	prompt, completion := m.promptTokens, m.completionTokens
	name := m.name
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			m.record(req, nil, ctx.Err())
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if fn != nil {
		resp, err := fn(ctx, req)
		m.record(req, resp, err)
		return resp, err
	}

	if reply.Err != nil {
		m.record(req, nil, reply.Err)
		return nil, reply.Err
	}

	resp := &llm.ChatResponse{
		ID:       "mock-response",
		Provider: name,
		Model:    req.Model,
		Content:  reply.Content,
		Usage: llm.ChatUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
		CreatedAt: time.Now(),
	}
	m.record(req, resp, nil)
	return resp, nil
}

func (m *MockProvider) record(req *llm.ChatRequest, resp *llm.ChatResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
}

// --- 调用记录查询 ---

// GetCalls 返回所有调用记录
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// GetCallCount 返回调用次数
func (m *MockProvider) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// GetLastCall 返回最后一次调用记录
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}

// Reset 清空调用记录与剩余脚本
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.script = nil
	m.callCount = 0
}

// --- 预设 Provider 工厂函数 ---

// NewSuccessProvider 创建总是成功的 Provider
func NewSuccessProvider(response string) *MockProvider {
	return NewMockProvider().WithResponse(response)
}

// NewErrorProvider 创建总是失败的 Provider
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewFlakyProvider 创建在 N 次调用后失败的 Provider
func NewFlakyProvider(successCount int, response string) *MockProvider {
	return NewMockProvider().WithResponse(response).WithFailAfter(successCount)
}

// IsPlanRequest 判断请求是否来自 ReWOO 的 Plan 阶段
func IsPlanRequest(req *llm.ChatRequest) bool {
	return len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "planning stage")
}

// NewTurnProvider 创建区分 Plan / Solve 阶段的 Provider：Plan 返回 plan，Solve 交给 solve 生成
func NewTurnProvider(plan string, solve func(req *llm.ChatRequest) (string, error)) *MockProvider {
	return NewMockProvider().WithCompletionFunc(func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		if IsPlanRequest(req) {
			return &llm.ChatResponse{Content: plan, Usage: llm.ChatUsage{TotalTokens: 5}}, nil
		}
		content, err := solve(req)
		if err != nil {
			return nil, err
		}
		return &llm.ChatResponse{Content: content, Usage: llm.ChatUsage{TotalTokens: 7}}, nil
	})
}

var _ llm.Provider = (*MockProvider)(nil)
