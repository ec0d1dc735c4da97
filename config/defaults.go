// =============================================================================
// 📦 AgentCouncil 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/agentcouncil/internal/broker"
	"github.com/BaSui01/agentcouncil/internal/cache"
	"github.com/BaSui01/agentcouncil/internal/database"
	"github.com/BaSui01/agentcouncil/internal/server"
	"github.com/BaSui01/agentcouncil/llm/circuitbreaker"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log:        DefaultLogConfig(),
		LLM:        DefaultLLMConfig(),
		ReWOO:      DefaultReWOOConfig(),
		Meeting:    DefaultMeetingConfig(),
		Consensus:  ConsensusConfig{BaseWeights: map[string]float64{}},
		Reflection: DefaultReflectionConfig(),
		Safety:     DefaultSafetyConfig(),
		Session:    DefaultSessionConfig(),
		Redis:      cache.DefaultConfig(),
		Database:   DefaultDatabaseConfig(),
		Kafka:      broker.DefaultConfig(),
		Metrics:    DefaultMetricsConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Sentry:     SentryConfig{Environment: "development", SampleRate: 1.0},
	}
}

// DefaultMetricsConfig 默认不监听，需显式配置地址
func DefaultMetricsConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.Addr = ""
	return cfg
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:       "openai",
		Model:          "gpt-4o-mini",
		Timeout:        120 * time.Second,
		CircuitBreaker: circuitbreaker.DefaultConfig(),
	}
}

// DefaultReWOOConfig 返回默认 ReWOO 配置
func DefaultReWOOConfig() ReWOOConfig {
	return ReWOOConfig{
		MaxPlanSteps:   8,
		ToolTimeout:    30 * time.Second,
		MaxConcurrency: 0,
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 2 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     10 * time.Second,
		},
	}
}

// DefaultMeetingConfig 返回默认会议配置
func DefaultMeetingConfig() MeetingConfig {
	return MeetingConfig{
		MaxTurns:       10,
		MaxDuration:    10 * time.Minute,
		SummaryRetries: 1,
		SummaryTimeout: 2 * time.Minute,
		ParallelTurns:  1,
	}
}

// DefaultReflectionConfig 返回默认反思配置
func DefaultReflectionConfig() ReflectionConfig {
	return ReflectionConfig{
		Reward:               0.05,
		Penalty:              -0.03,
		RewardCorrectDissent: false,
		MinWeight:            0.5,
		MaxWeight:            2.0,
		WeightStore:          "memory",
		Journal:              "log",
		KafkaTopic:           "agentcouncil.reflections",
	}
}

// DefaultSafetyConfig 返回默认安全闸门配置
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		MaxLeverage:       10,
		MinPositionSize:   0.001,
		MaxPositionSize:   10,
		DailyLossLimit:    500,
		CooldownLosses:    3,
		CooldownPeriod:    time.Hour,
		LiquidationMargin: 0.05,
		MaintenanceMargin: 0.005,
		StartupWindow:     10 * time.Minute,
		RequireStopLoss:   true,
	}
}

// DefaultSessionConfig 返回默认会话存储配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Store:   "memory",
		BaseDir: "./data",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() database.Config {
	return database.Config{
		Driver: "sqlite",
		DSN:    "agentcouncil.db",
		Pool:   database.DefaultPoolConfig(),
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:        false,
		OTLPEndpoint:   "localhost:4317",
		ServiceName:    "agentcouncil",
		SampleRate:     0.1,
		Insecure:       true,
		MetricInterval: 30 * time.Second,
		Environment:    "development",
	}
}
