package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/agentcouncil/internal/ctxkeys"
	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/internal/telemetry"
	"github.com/BaSui01/agentcouncil/llm"
	"github.com/BaSui01/agentcouncil/llm/retry"
	"github.com/BaSui01/agentcouncil/llm/tools"
	"github.com/BaSui01/agentcouncil/types"
)

// Config ReWOO 执行器配置
type Config struct {
	MaxPlanSteps        int           // 计划步数上限，超出部分丢弃
	ToolTimeout         time.Duration // 单次工具调用超时，与工具自身 Timeout 取较小值
	LLMTimeout          time.Duration // 单次 LLM 调用超时
	MaxConcurrency      int           // 单回合工具并发上限，0 表示不限制
	PartialSolveTimeout time.Duration // 回合被取消后做部分 Solve 的预算
	PlanModel           string        // 为空时使用 Provider 默认模型
	SolveModel          string
	PlanTemperature     float32
	SolveTemperature    float32
	PlanMaxTokens       int
	SolveMaxTokens      int
	PlanRetry           *retry.RetryPolicy
	SolveRetry          *retry.RetryPolicy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPlanSteps:        8,
		ToolTimeout:         tools.DefaultTimeout,
		LLMTimeout:          llm.DefaultTimeout,
		MaxConcurrency:      0,
		PartialSolveTimeout: 20 * time.Second,
		PlanTemperature:     0.2,
		SolveTemperature:    0.3,
		PlanMaxTokens:       2000,
		SolveMaxTokens:      1500,
		PlanRetry:           retry.PlanRetryPolicy(),
		SolveRetry:          retry.PlanRetryPolicy(),
	}
}

// Turn 一次推理回合的输入
type Turn struct {
	SessionID   string
	AgentID     string
	Role        types.AgentRole
	Instruction string // 角色系统提示词
	Task        string
	Context     string // 已渲染的上下文快照（历史消息、结构化事实）
	AnswerSpec  string // Solve 阶段输出格式要求，由角色配置决定
}

// Observation 一次工具调用的观察结果，按计划顺序排列
type Observation struct {
	StepIndex  int            `json:"step"`
	Tool       string         `json:"tool"`
	Success    bool           `json:"success"`
	Payload    map[string]any `json:"payload,omitempty"`
	Error      string         `json:"error,omitempty"`
	Dispatched bool           `json:"dispatched"`
	Duration   time.Duration  `json:"duration"`
}

// Render 返回交给 Solve 阶段的文本
func (o Observation) Render() string {
	if !o.Success {
		reason := o.Error
		if reason == "" {
			reason = "unknown error"
		}
		return "tool failed: " + reason
	}
	data, err := json.Marshal(o.Payload)
	if err != nil {
		return fmt.Sprintf("%v", o.Payload)
	}
	return string(data)
}

// TurnResult 一次推理回合的输出
type TurnResult struct {
	Plan          []PlanStep
	PlanStrategy  Strategy // 为空表示计划无法解析，按空计划处理
	Observations  []Observation
	SuccessCount  int
	Degraded      bool // 计划非空但没有任何工具成功，或 Solve 失败走了兜底
	Partial       bool // 回合被取消，只基于已完成的观察做了部分 Solve
	SolveFallback bool
	Answer        string
	TotalTokens   int
	Duration      time.Duration
}

// Option 执行器可选项
type Option func(*Executor)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithEventSink(sink types.EventSink) Option {
	return func(e *Executor) {
		if sink != nil {
			e.sink = sink
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = c }
}

// Executor 实现 Plan → Execute → Solve 三阶段推理。
// 只有 Plan 阶段的 LLM 调用失败（重试耗尽）会向上返回错误。
type Executor struct {
	provider llm.Provider
	registry *tools.Registry
	cfg      Config
	sink     types.EventSink
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewExecutor 创建执行器。registry 应当是该 Agent 的工具子集。
func NewExecutor(provider llm.Provider, registry *tools.Registry, cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.MaxPlanSteps <= 0 {
		cfg.MaxPlanSteps = def.MaxPlanSteps
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = def.ToolTimeout
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = def.LLMTimeout
	}
	if cfg.PartialSolveTimeout <= 0 {
		cfg.PartialSolveTimeout = def.PartialSolveTimeout
	}
	if cfg.PlanRetry == nil {
		cfg.PlanRetry = def.PlanRetry
	}
	if cfg.SolveRetry == nil {
		cfg.SolveRetry = def.SolveRetry
	}
	cfg.PlanRetry = transientPolicy(cfg.PlanRetry)
	cfg.SolveRetry = transientPolicy(cfg.SolveRetry)
	if registry == nil {
		registry = tools.NewRegistry(nil)
	}

	e := &Executor{
		provider: provider,
		registry: registry,
		cfg:      cfg,
		sink:     types.NopSink{},
		tracer:   telemetry.Tracer("reasoning"),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "rewoo"))
	return e
}

// transientPolicy 未指定判定函数时只重试瞬时错误（鉴权、参数错误立即失败）
func transientPolicy(p *retry.RetryPolicy) *retry.RetryPolicy {
	if p.ShouldRetry != nil {
		return p
	}
	cp := *p
	cp.ShouldRetry = retry.TransientOnly
	return &cp
}

// Tools 返回执行器可用的工具集
func (e *Executor) Tools() *tools.Registry { return e.registry }

// Run 执行一个完整回合
func (e *Executor) Run(ctx context.Context, turn Turn) (*TurnResult, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "rewoo.turn", trace.WithAttributes(
		attribute.String("session_id", turn.SessionID),
		attribute.String("agent_id", turn.AgentID),
		attribute.String("role", string(turn.Role)),
	))
	defer span.End()

	logger := e.logger.With(zap.String("session_id", turn.SessionID), zap.String("agent_id", turn.AgentID))
	result := &TurnResult{}

	// Phase 1: Plan
	plan, strategy, tokens, err := e.plan(ctx, turn, logger)
	if err != nil {
		telemetry.RecordError(span, err)
		e.metrics.RecordTurn(string(turn.Role), "failed", time.Since(start))
		return nil, err
	}
	result.Plan = plan
	result.PlanStrategy = strategy
	result.TotalTokens += tokens

	// Phase 2: Execute（空计划跳过）
	if len(plan) > 0 {
		result.Observations = e.execute(ctx, turn, plan, logger)
		for _, o := range result.Observations {
			if o.Success {
				result.SuccessCount++
			}
		}
		if result.SuccessCount == 0 {
			result.Degraded = true
			logger.Warn("analysis degraded: no tool call succeeded", zap.Int("plan_steps", len(plan)))
		}
	}

	// 回合被取消时保留已完成的观察，用独立预算做部分 Solve
	solveCtx := ctx
	if ctx.Err() != nil {
		result.Partial = true
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), e.cfg.PartialSolveTimeout)
		defer cancel()
		logger.Warn("turn cancelled, running partial solve", zap.Error(ctx.Err()))
	}

	// Phase 3: Solve
	answer, tokens, err := e.solve(solveCtx, turn, result)
	result.TotalTokens += tokens
	if err != nil {
		logger.Error("solve failed, composing answer from observations", zap.Error(err))
		result.SolveFallback = true
		result.Degraded = true
		answer = FallbackAnswer(turn, result)
	}
	result.Answer = answer
	result.Duration = time.Since(start)

	status := "success"
	if result.Degraded {
		status = "degraded"
	}
	e.metrics.RecordTurn(string(turn.Role), status, result.Duration)
	span.SetAttributes(
		attribute.Int("plan_steps", len(plan)),
		attribute.Int("success_count", result.SuccessCount),
		attribute.Bool("degraded", result.Degraded),
	)
	return result, nil
}

func (e *Executor) plan(ctx context.Context, turn Turn, logger *zap.Logger) ([]PlanStep, Strategy, int, error) {
	ctx, span := e.tracer.Start(ctx, "rewoo.plan")
	defer span.End()

	req := &llm.ChatRequest{
		TraceID:     turn.SessionID,
		Model:       e.cfg.PlanModel,
		Messages:    BuildPlanMessages(turn, e.registry.List(), e.cfg.MaxPlanSteps),
		Temperature: e.cfg.PlanTemperature,
		MaxTokens:   e.cfg.PlanMaxTokens,
		Timeout:     e.cfg.LLMTimeout,
	}

	retryer := retry.NewBackoffRetryer(e.cfg.PlanRetry, logger)
	resp, err := retry.DoWithResultTyped[*llm.ChatResponse](retryer, ctx, func() (*llm.ChatResponse, error) {
		return e.complete(ctx, "plan", req)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, "", 0, types.WrapError(types.ErrPlanFailed, "plan phase failed", err).
			WithProvider(providerName(e.provider))
	}

	steps, strategy, perr := ParsePlan(resp.Content)
	e.metrics.RecordPlanParse(string(strategy))
	if perr != nil {
		// 畸形输出按空计划处理，保留原文便于排查
		logger.Warn("plan unparseable, falling back to no-tool solve",
			zap.Error(perr), zap.String("raw_response", resp.Content))
		return []PlanStep{}, "", resp.Usage.TotalTokens, nil
	}
	if len(steps) > e.cfg.MaxPlanSteps {
		logger.Warn("plan truncated", zap.Int("steps", len(steps)), zap.Int("max", e.cfg.MaxPlanSteps))
		steps = steps[:e.cfg.MaxPlanSteps]
	}
	span.SetAttributes(attribute.String("strategy", string(strategy)), attribute.Int("steps", len(steps)))
	return steps, strategy, resp.Usage.TotalTokens, nil
}

// execute 并发执行所有通过校验的步骤，观察结果按计划下标回填
func (e *Executor) execute(ctx context.Context, turn Turn, plan []PlanStep, logger *zap.Logger) []Observation {
	ctx, span := e.tracer.Start(ctx, "rewoo.execute", trace.WithAttributes(attribute.Int("steps", len(plan))))
	defer span.End()

	observations := make([]Observation, len(plan))
	var sem *semaphore.Weighted
	if e.cfg.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(e.cfg.MaxConcurrency))
	}

	var g errgroup.Group
	for i, step := range plan {
		observations[i] = Observation{StepIndex: step.Index, Tool: step.Tool}

		if err := e.registry.Validate(step.Tool, step.Params); err != nil {
			msg := err.Error()
			if types.IsErrorCode(err, types.ErrToolNotFound) {
				msg = "unknown tool: " + step.Tool
			}
			observations[i].Error = msg
			logger.Warn("plan step rejected before dispatch",
				zap.Int("step", step.Index),
				zap.String("tool", step.Tool),
				zap.Any("params", step.Params),
				zap.String("reason", msg))
			continue
		}

		g.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					observations[i].Error = "cancelled"
					return nil
				}
				defer sem.Release(1)
			}
			observations[i] = e.dispatch(ctx, turn, step)
			return nil
		})
	}
	// 等待全部完成，不因单个失败短路
	_ = g.Wait()

	if ctx.Err() != nil {
		for i := range observations {
			if !observations[i].Success && observations[i].Error == "" {
				observations[i].Error = "cancelled"
			}
		}
	}
	return observations
}

func (e *Executor) dispatch(ctx context.Context, turn Turn, step PlanStep) Observation {
	e.sink.Emit(ctx, types.NewEvent(types.EventToolDispatched, turn.SessionID, turn.AgentID, map[string]any{
		"step": step.Index,
		"tool": step.Tool,
	}))

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()

	res := e.registry.Invoke(callCtx, step.Tool, step.Params)
	if !res.Success && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		res.Error = fmt.Sprintf("timeout after %s", e.cfg.ToolTimeout)
	}
	obs := Observation{
		StepIndex:  step.Index,
		Tool:       step.Tool,
		Success:    res.Success,
		Payload:    res.Payload,
		Error:      res.Error,
		Dispatched: true,
		Duration:   res.Duration,
	}

	e.metrics.RecordToolCall(step.Tool, obs.Success, obs.Duration)
	e.sink.Emit(ctx, types.NewEvent(types.EventToolCompleted, turn.SessionID, turn.AgentID, map[string]any{
		"step":        step.Index,
		"tool":        step.Tool,
		"success":     obs.Success,
		"error":       obs.Error,
		"duration_ms": obs.Duration.Milliseconds(),
	}))
	return obs
}

func (e *Executor) solve(ctx context.Context, turn Turn, result *TurnResult) (string, int, error) {
	ctx, span := e.tracer.Start(ctx, "rewoo.solve")
	defer span.End()

	req := &llm.ChatRequest{
		TraceID:     turn.SessionID,
		Model:       e.cfg.SolveModel,
		Messages:    BuildSolveMessages(turn, result.Plan, result.Observations, result.Degraded, result.Partial),
		Temperature: e.cfg.SolveTemperature,
		MaxTokens:   e.cfg.SolveMaxTokens,
		Timeout:     e.cfg.LLMTimeout,
	}
	// 角色绑定的模型只作用于 Solve，Plan 始终使用规划模型
	if model, ok := ctxkeys.LLMModel(ctx); ok {
		req.Model = model
	}

	retryer := retry.NewBackoffRetryer(e.cfg.SolveRetry, e.logger)
	resp, err := retry.DoWithResultTyped[*llm.ChatResponse](retryer, ctx, func() (*llm.ChatResponse, error) {
		return e.complete(ctx, "solve", req)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return "", 0, err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", resp.Usage.TotalTokens, errors.New("solve returned empty answer")
	}
	return resp.Content, resp.Usage.TotalTokens, nil
}

func (e *Executor) complete(ctx context.Context, phase string, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := llm.Complete(ctx, e.provider, req)
	status := "success"
	prompt, completion := 0, 0
	if err != nil {
		status = "error"
	} else {
		prompt, completion = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	e.metrics.RecordLLMRequest(providerName(e.provider), phase, status, time.Since(start), prompt, completion)
	return resp, err
}

func providerName(p llm.Provider) string {
	if p == nil {
		return "none"
	}
	return p.Name()
}

// FallbackAnswer Solve 失败时基于观察结果拼出的兜底回答
func FallbackAnswer(turn Turn, result *TurnResult) string {
	var b strings.Builder
	b.WriteString("ANALYSIS DEGRADED: synthesis unavailable, raw observations follow.\n")
	if len(result.Observations) == 0 {
		b.WriteString("No tool observations were collected.\n")
	}
	for i, step := range result.Plan {
		if i >= len(result.Observations) {
			break
		}
		fmt.Fprintf(&b, "Step %d %s: %s\n", step.Index, step.Tool, truncate(result.Observations[i].Render(), 500))
	}
	return b.String()
}

// ObservationsByTool 按工具名汇总成功观察，供上层提取结构化事实
func ObservationsByTool(obs []Observation) map[string][]map[string]any {
	out := make(map[string][]map[string]any)
	for _, o := range obs {
		if o.Success {
			out[o.Tool] = append(out[o.Tool], o.Payload)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
