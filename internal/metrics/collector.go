// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有 Record* 方法对 nil 接收者安全，
// 组件可以把 Collector 作为可选依赖持有。
type Collector struct {
	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// ReWOO 指标
	turnsTotal       *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	planParseTotal   *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	// 会话与共识指标
	sessionsTotal       *prometheus.CounterVec
	consensusDecisions  *prometheus.CounterVec
	consensusConfidence prometheus.Histogram
	agentWeight         *prometheus.GaugeVec

	// 安全闸门指标
	safetyDecisions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为空时注册到 prometheus.DefaultRegisterer。
func NewCollector(namespace string, logger *zap.Logger, reg ...prometheus.Registerer) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	if len(reg) > 0 && reg[0] != nil {
		registerer = reg[0]
	}
	factory := promauto.With(registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// LLM 指标
	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests by reasoning phase",
		},
		[]string{"provider", "phase", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "phase"},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "type"}, // type: prompt, completion
	)

	// ReWOO 指标
	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_turns_total",
			Help:      "Total number of agent reasoning turns",
		},
		[]string{"role", "status"}, // status: success, degraded, failed
	)

	c.turnDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_turn_duration_seconds",
			Help:      "Agent reasoning turn duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"role"},
	)

	c.planParseTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_parse_total",
			Help:      "Plan parse outcomes by extraction strategy",
		},
		[]string{"strategy"},
	)

	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	c.toolCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"tool"},
	)

	// 会话与共识指标
	c.sessionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished sessions by final state",
		},
		[]string{"state"},
	)

	c.consensusDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consensus_decisions_total",
			Help:      "Consensus decisions by winning direction",
		},
		[]string{"direction"},
	)

	c.consensusConfidence = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consensus_confidence",
			Help:      "Aggregate confidence of consensus decisions",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		},
	)

	c.agentWeight = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_weight",
			Help:      "Current reputation weight per agent",
		},
		[]string{"agent_id"},
	)

	// 安全闸门指标
	c.safetyDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_decisions_total",
			Help:      "Safety gate decisions by check and result",
		},
		[]string{"check", "result"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordLLMRequest 记录一次 LLM 调用
func (c *Collector) RecordLLMRequest(provider, phase, status string, duration time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(provider, phase, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, phase).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}

// RecordTurn 记录一次 Agent 推理回合
func (c *Collector) RecordTurn(role, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(role, status).Inc()
	c.turnDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// RecordPlanParse 记录计划解析使用的策略（空字符串记为 failed）
func (c *Collector) RecordPlanParse(strategy string) {
	if c == nil {
		return
	}
	if strategy == "" {
		strategy = "failed"
	}
	c.planParseTotal.WithLabelValues(strategy).Inc()
}

// RecordToolCall 记录一次工具调用
func (c *Collector) RecordToolCall(tool string, success bool, duration time.Duration) {
	if c == nil {
		return
	}
	c.toolCallsTotal.WithLabelValues(tool, resultLabel(success)).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordSession 记录会话结束状态
func (c *Collector) RecordSession(state string) {
	if c == nil {
		return
	}
	c.sessionsTotal.WithLabelValues(state).Inc()
}

// RecordConsensus 记录共识结果
func (c *Collector) RecordConsensus(direction string, confidence float64) {
	if c == nil {
		return
	}
	c.consensusDecisions.WithLabelValues(direction).Inc()
	c.consensusConfidence.Observe(confidence)
}

// SetAgentWeight 更新 Agent 权重 Gauge
func (c *Collector) SetAgentWeight(agentID string, weight float64) {
	if c == nil {
		return
	}
	c.agentWeight.WithLabelValues(agentID).Set(weight)
}

// RecordSafetyDecision 记录安全闸门判定
func (c *Collector) RecordSafetyDecision(check string, allowed bool) {
	if c == nil {
		return
	}
	if check == "" {
		check = "all"
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	c.safetyDecisions.WithLabelValues(check, result).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
