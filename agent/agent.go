package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent/consensus"
	"github.com/BaSui01/agentcouncil/agent/reasoning"
	"github.com/BaSui01/agentcouncil/internal/ctxkeys"
	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/llm"
	"github.com/BaSui01/agentcouncil/llm/tools"
	"github.com/BaSui01/agentcouncil/types"
)

// 消息元数据键
const (
	MetaDirection  = "direction"
	MetaConfidence = "confidence"
	MetaDegraded   = "degraded"
	MetaRole       = "role"
)

// Agent 会议中的一个参与者。Respond 在单个回合内读取收件箱并给出回应，
// 实现必须可被多个会话并发调用。
type Agent interface {
	ID() string
	Role() types.AgentRole
	Profile() RoleProfile
	Respond(ctx context.Context, in TurnInput) (*TurnOutput, error)
}

// TurnInput 一个回合的输入
type TurnInput struct {
	SessionID string
	Task      string
	Context   Snapshot
	Inbox     []types.Message
}

// TurnOutput 一个回合的输出
type TurnOutput struct {
	Messages []types.Message
	Vote     *types.AgentVote // 角色不投票时为 nil
	Answer   string
	Degraded bool
	Facts    map[string]any // "<agentID>.<tool>" → 成功观察的 payload 列表
	Tokens   int
	Duration time.Duration
}

// Option Agent 可选项
type Option func(*ReWOOAgent)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(a *ReWOOAgent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithEventSink 设置生命周期事件输出
func WithEventSink(sink types.EventSink) Option {
	return func(a *ReWOOAgent) {
		if sink != nil {
			a.sink = sink
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(a *ReWOOAgent) { a.metrics = c }
}

// ReWOOAgent 把角色配置绑定到 ReWOO 执行器
type ReWOOAgent struct {
	id       string
	profile  RoleProfile
	executor *reasoning.Executor
	sink     types.EventSink
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewReWOOAgent 创建 Agent。registry 为全局工具注册表，Agent 只拿到 profile.Tools 声明的子集。
func NewReWOOAgent(id string, profile RoleProfile, provider llm.Provider, registry *tools.Registry, cfg reasoning.Config, opts ...Option) (*ReWOOAgent, error) {
	if id == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "agent id is required")
	}
	if provider == nil {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("agent %s: provider is required", id))
	}
	if profile.Votes && len(profile.Directions.Directions) == 0 {
		profile.Directions = DirectionsFor(profile.Role)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	if registry == nil {
		registry = tools.NewRegistry(nil)
	}
	subset, err := registry.Subset(profile.Tools...)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}

	a := &ReWOOAgent{
		id:      id,
		profile: profile,
		sink:    types.NopSink{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "agent"), zap.String("agent_id", id), zap.String("role", string(profile.Role)))
	a.executor = reasoning.NewExecutor(provider, subset, cfg,
		reasoning.WithLogger(a.logger),
		reasoning.WithEventSink(a.sink),
		reasoning.WithMetrics(a.metrics),
	)
	return a, nil
}

// ID 返回 Agent ID
func (a *ReWOOAgent) ID() string { return a.id }

// Role 返回角色
func (a *ReWOOAgent) Role() types.AgentRole { return a.profile.Role }

// Profile 返回角色配置副本
func (a *ReWOOAgent) Profile() RoleProfile {
	p := a.profile
	p.Tools = append([]string(nil), p.Tools...)
	return p
}

// Respond 执行一个 ReWOO 回合并把结果转成会话消息与投票。
// 只有 Plan 阶段重试耗尽会返回错误（types.ErrTurnFailed），其余失败体现为降级回答。
func (a *ReWOOAgent) Respond(ctx context.Context, in TurnInput) (*TurnOutput, error) {
	ctx = ctxkeys.WithSessionID(ctx, in.SessionID)
	ctx = ctxkeys.WithAgentID(ctx, a.id)
	if a.profile.Model != "" {
		ctx = ctxkeys.WithLLMModel(ctx, a.profile.Model)
	}

	a.sink.Emit(ctx, types.NewEvent(types.EventTurnStarted, in.SessionID, a.id, map[string]any{
		"role":  string(a.profile.Role),
		"inbox": len(in.Inbox),
	}))

	result, err := a.executor.Run(ctx, reasoning.Turn{
		SessionID:   in.SessionID,
		AgentID:     a.id,
		Role:        a.profile.Role,
		Instruction: a.profile.Instruction,
		Task:        in.Task,
		Context:     RenderContext(in.Context, in.Inbox),
		AnswerSpec:  a.profile.AnswerSpec(),
	})
	if err != nil {
		// 事件会被转发到宿主传输层，只携带错误码，原始错误只进日志
		a.sink.Emit(ctx, types.NewEvent(types.EventTurnFailed, in.SessionID, a.id, map[string]any{
			"code":      string(types.GetErrorCode(err)),
			"retryable": types.IsRetryable(err),
		}))
		a.logger.Error("turn failed", zap.String("session_id", in.SessionID), zap.Error(err))
		return nil, types.WrapError(types.ErrTurnFailed, fmt.Sprintf("agent %s turn failed", a.id), err)
	}

	out := &TurnOutput{
		Answer:   result.Answer,
		Degraded: result.Degraded,
		Facts:    facts(a.id, result.Observations),
		Tokens:   result.TotalTokens,
		Duration: result.Duration,
	}

	if a.profile.Votes {
		vote, ok := consensus.ParseVote(a.id, a.profile.Role, result.Answer, a.profile.Directions)
		if !ok {
			a.logger.Warn("vote unparseable, using conservative default",
				zap.String("session_id", in.SessionID),
				zap.String("direction", string(vote.Direction)))
		}
		out.Vote = &vote
	}

	out.Messages = []types.Message{a.compose(in, out)}

	payload := map[string]any{
		"degraded":      out.Degraded,
		"plan_steps":    len(result.Plan),
		"success_count": result.SuccessCount,
		"tokens":        out.Tokens,
		"duration_ms":   out.Duration.Milliseconds(),
	}
	if out.Vote != nil {
		payload["direction"] = string(out.Vote.Direction)
		payload["confidence"] = out.Vote.Confidence
	}
	a.sink.Emit(ctx, types.NewEvent(types.EventTurnCompleted, in.SessionID, a.id, payload))
	return out, nil
}

// compose 生成本回合的消息：与收件箱中最近一条带方向的他人消息比较，
// 方向一致为 agreement，不一致为 disagreement；无可比较对象时为 response 或 broadcast。
func (a *ReWOOAgent) compose(in TurnInput, out *TurnOutput) types.Message {
	msgType := types.MessageBroadcast
	if len(in.Inbox) > 0 {
		msgType = types.MessageResponse
	}
	if out.Vote != nil {
		if prev, ok := latestDirection(in.Inbox, a.id); ok {
			if prev == string(out.Vote.Direction) {
				msgType = types.MessageAgreement
			} else {
				msgType = types.MessageDisagreement
			}
		}
	}

	msg := types.NewBroadcast(a.id, msgType, out.Answer).
		WithSession(in.SessionID).
		WithMetadata(MetaRole, string(a.profile.Role))
	if out.Vote != nil {
		msg = msg.WithMetadata(MetaDirection, string(out.Vote.Direction)).
			WithMetadata(MetaConfidence, strconv.FormatFloat(out.Vote.Confidence, 'f', -1, 64))
	}
	if out.Degraded {
		msg = msg.WithMetadata(MetaDegraded, "true")
	}
	return msg
}

func latestDirection(inbox []types.Message, self string) (string, bool) {
	for i := len(inbox) - 1; i >= 0; i-- {
		m := inbox[i]
		if m.Sender == self {
			continue
		}
		if d := m.Metadata[MetaDirection]; d != "" {
			return d, true
		}
	}
	return "", false
}

func facts(agentID string, obs []reasoning.Observation) map[string]any {
	byTool := reasoning.ObservationsByTool(obs)
	if len(byTool) == 0 {
		return nil
	}
	out := make(map[string]any, len(byTool))
	for tool, payloads := range byTool {
		out[agentID+"."+tool] = payloads
	}
	return out
}

// RenderContext 把上下文快照与收件箱渲染成提示词文本
func RenderContext(snap Snapshot, inbox []types.Message) string {
	var b strings.Builder
	if snap.Len() > 0 {
		b.WriteString("Shared context:\n")
		b.WriteString(snap.Render())
		b.WriteString("\n")
	}
	if len(inbox) > 0 {
		b.WriteString("Messages since your last turn:\n")
		for _, m := range inbox {
			fmt.Fprintf(&b, "[%s/%s] %s", m.Sender, m.Type, strings.TrimSpace(m.Content))
			if d := m.Metadata[MetaDirection]; d != "" {
				fmt.Fprintf(&b, " (vote: %s %s)", d, m.Metadata[MetaConfidence])
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

var _ Agent = (*ReWOOAgent)(nil)
