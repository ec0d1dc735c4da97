package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	agentIDKey   contextKey = "agent_id"
	roundKey     contextKey = "round"
	llmModelKey  contextKey = "llm_model"
)

// WithSessionID 设置会话 ID
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionID 获取会话 ID
func SessionID(ctx context.Context) (string, bool) {
	return stringValue(ctx, sessionIDKey)
}

// WithAgentID 设置当前回合的 Agent ID
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// AgentID 获取 Agent ID
func AgentID(ctx context.Context) (string, bool) {
	return stringValue(ctx, agentIDKey)
}

// WithRound 设置会议轮次
func WithRound(ctx context.Context, round int) context.Context {
	return context.WithValue(ctx, roundKey, round)
}

// Round 获取会议轮次
func Round(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(roundKey).(int)
	return v, ok
}

// WithLLMModel 设置 LLM 模型（用于覆盖默认模型）
func WithLLMModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, llmModelKey, model)
}

// LLMModel 获取 LLM 模型
func LLMModel(ctx context.Context) (string, bool) {
	return stringValue(ctx, llmModelKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
