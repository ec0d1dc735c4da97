package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/BaSui01/agentcouncil/types"
)

// Validate 校验配置，返回全部问题，以 "; " 连接
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}
	oneOf := func(field, value string, allowed ...string) {
		if !slices.Contains(allowed, value) {
			add("%s must be one of [%s], got %q", field, strings.Join(allowed, ", "), value)
		}
	}

	oneOf("log.level", c.Log.Level, "debug", "info", "warn", "error")
	oneOf("log.format", c.Log.Format, "json", "console")

	oneOf("llm.provider", c.LLM.Provider, "openai", "gemini", "deepseek", "qwen", "kimi", "glm", "mock")
	if c.LLM.Timeout <= 0 {
		add("llm.timeout must be positive")
	}

	if c.ReWOO.MaxPlanSteps <= 0 {
		add("rewoo.max_plan_steps must be positive")
	}
	if c.ReWOO.ToolTimeout <= 0 {
		add("rewoo.tool_timeout must be positive")
	}
	if c.ReWOO.MaxConcurrency < 0 {
		add("rewoo.max_concurrency must be >= 0")
	}
	if c.ReWOO.Retry.MaxAttempts < 1 {
		add("rewoo.retry.max_attempts must be >= 1")
	}
	if c.ReWOO.Retry.Multiplier < 1 {
		add("rewoo.retry.multiplier must be >= 1")
	}

	if c.Meeting.MaxTurns <= 0 {
		add("meeting.max_turns must be positive")
	}
	if c.Meeting.MaxDuration <= 0 {
		add("meeting.max_duration must be positive")
	}
	if c.Meeting.SummaryRetries < 0 {
		add("meeting.summary_retries must be >= 0")
	}

	for _, role := range slices.Sorted(maps.Keys(c.Consensus.BaseWeights)) {
		w := c.Consensus.BaseWeights[role]
		if !types.AgentRole(role).Valid() {
			add("consensus.base_weights: unknown role %q", role)
		} else if w <= 0 {
			add("consensus.base_weights.%s must be positive", role)
		}
	}

	r := c.Reflection
	if r.Reward < 0 {
		add("reflection.reward must be >= 0")
	}
	if r.Penalty > 0 {
		add("reflection.penalty must be <= 0")
	}
	if r.MinWeight <= 0 || r.MaxWeight < r.MinWeight {
		add("reflection weight bounds must satisfy 0 < min_weight <= max_weight, got [%g, %g]", r.MinWeight, r.MaxWeight)
	}
	oneOf("reflection.weight_store", r.WeightStore, "memory", "redis")
	oneOf("reflection.journal", r.Journal, "none", "log", "database", "kafka")

	s := c.Safety
	if s.MaxLeverage < 1 {
		add("safety.max_leverage must be >= 1")
	}
	if s.MinPositionSize < 0 || s.MaxPositionSize < s.MinPositionSize {
		add("safety position size range is invalid")
	}
	if s.DailyLossLimit < 0 {
		add("safety.daily_loss_limit must be >= 0")
	}
	if s.CooldownLosses < 0 {
		add("safety.cooldown_losses must be >= 0")
	}
	if s.LiquidationMargin < 0 || s.LiquidationMargin >= 1 {
		add("safety.liquidation_margin must be in [0, 1)")
	}
	if s.MaintenanceMargin < 0 || s.MaintenanceMargin >= 1 {
		add("safety.maintenance_margin must be in [0, 1)")
	}

	oneOf("session.store", c.Session.Store, "memory", "file", "redis")

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry.sample_rate must be in [0, 1]")
	}
	if c.Telemetry.Enabled && c.Telemetry.MetricInterval < 0 {
		add("telemetry.metric_interval must be >= 0")
	}
	if c.Sentry.SampleRate < 0 || c.Sentry.SampleRate > 1 {
		add("sentry.sample_rate must be in [0, 1]")
	}

	if len(errs) > 0 {
		return errors.New("config validation errors: " + strings.Join(errs, "; "))
	}
	return nil
}
