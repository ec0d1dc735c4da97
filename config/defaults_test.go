package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, ReWOOConfig{}, cfg.ReWOO)
	assert.NotEqual(t, MeetingConfig{}, cfg.Meeting)
	assert.NotEqual(t, ReflectionConfig{}, cfg.Reflection)
	assert.NotEqual(t, SafetyConfig{}, cfg.Safety)
	assert.NotEqual(t, SessionConfig{}, cfg.Session)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEmpty(t, cfg.Redis.Addr)
	assert.NotEmpty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.NotNil(t, cfg.Consensus.BaseWeights)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, 120*time.Second, cfg.Timeout)
	assert.Empty(t, cfg.PlanModel)
	assert.Empty(t, cfg.SolveModel)
}

func TestDefaultReWOOConfig(t *testing.T) {
	cfg := DefaultReWOOConfig()
	assert.Equal(t, 30*time.Second, cfg.ToolTimeout)
	assert.Equal(t, 0, cfg.MaxConcurrency)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
}

func TestDefaultMeetingConfig(t *testing.T) {
	cfg := DefaultMeetingConfig()
	assert.Equal(t, 1, cfg.SummaryRetries)
	assert.Equal(t, 1, cfg.ParallelTurns)
	assert.Positive(t, cfg.MaxTurns)
}

func TestDefaultReflectionConfig(t *testing.T) {
	cfg := DefaultReflectionConfig()
	assert.Equal(t, 0.05, cfg.Reward)
	assert.Equal(t, -0.03, cfg.Penalty)
	assert.False(t, cfg.RewardCorrectDissent)
	assert.Equal(t, 0.5, cfg.MinWeight)
	assert.Equal(t, 2.0, cfg.MaxWeight)
	assert.Equal(t, "log", cfg.Journal)
}

func TestDefaultSafetyConfig(t *testing.T) {
	cfg := DefaultSafetyConfig()
	assert.Equal(t, 0.05, cfg.LiquidationMargin)
	assert.Equal(t, 10.0, cfg.MaxLeverage)
	assert.Equal(t, time.Hour, cfg.CooldownPeriod)
	assert.True(t, cfg.RequireStopLoss)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "agentcouncil", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 30*time.Second, cfg.MetricInterval)
	assert.Equal(t, "development", cfg.Environment)
}

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()
	assert.Empty(t, cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}
