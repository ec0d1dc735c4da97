// 配置加载器与校验测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "council.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 10, cfg.Meeting.MaxTurns)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeYAML(t, `
log:
  level: debug
  format: json
llm:
  provider: gemini
  model: gemini-2.0-flash
  plan_model: gemini-2.0-flash-lite
  timeout: 45s
rewoo:
  max_plan_steps: 5
  max_concurrency: 3
  retry:
    max_attempts: 4
meeting:
  max_turns: 6
  max_duration: 3m
  parallel_turns: 2
consensus:
  base_weights:
    risk_manager: 1.5
reflection:
  reward: 0.1
  penalty: -0.05
  reward_correct_dissent: true
  journal: database
safety:
  max_leverage: 20
  cooldown_period: 30m
session:
  store: file
  base_dir: /tmp/council
redis:
  addr: redis.internal:6379
  default_ttl: 48h
database:
  driver: postgres
  dsn: host=db user=council dbname=council
  pool:
    max_open_conns: 50
kafka:
  brokers: [k1:9092, k2:9092]
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.0-flash-lite", cfg.LLM.PlanModel)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 5, cfg.ReWOO.MaxPlanSteps)
	assert.Equal(t, 3, cfg.ReWOO.MaxConcurrency)
	assert.Equal(t, 4, cfg.ReWOO.Retry.MaxAttempts)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 2*time.Second, cfg.ReWOO.Retry.InitialDelay)
	assert.Equal(t, 3*time.Minute, cfg.Meeting.MaxDuration)
	assert.Equal(t, 2, cfg.Meeting.ParallelTurns)
	assert.Equal(t, 1.5, cfg.Consensus.BaseWeights["risk_manager"])
	assert.True(t, cfg.Reflection.RewardCorrectDissent)
	assert.Equal(t, "database", cfg.Reflection.Journal)
	assert.Equal(t, 20.0, cfg.Safety.MaxLeverage)
	assert.Equal(t, 30*time.Minute, cfg.Safety.CooldownPeriod)
	assert.Equal(t, "file", cfg.Session.Store)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 48*time.Hour, cfg.Redis.DefaultTTL)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 50, cfg.Database.Pool.MaxOpenConns)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)

	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("AGENTCOUNCIL_LOG_LEVEL", "warn")
	t.Setenv("AGENTCOUNCIL_LLM_API_KEY", "sk-env")
	t.Setenv("AGENTCOUNCIL_LLM_TIMEOUT", "30s")
	t.Setenv("AGENTCOUNCIL_MEETING_MAX_TURNS", "4")
	t.Setenv("AGENTCOUNCIL_REWOO_RETRY_MULTIPLIER", "1.5")
	t.Setenv("AGENTCOUNCIL_REFLECTION_REWARD_CORRECT_DISSENT", "true")
	t.Setenv("AGENTCOUNCIL_SAFETY_DAILY_LOSS_LIMIT", "250.5")
	// 包内结构体没有 env tag，使用 yaml 名
	t.Setenv("AGENTCOUNCIL_REDIS_ADDR", "env-redis:6379")
	t.Setenv("AGENTCOUNCIL_REDIS_KEY_PREFIX", "council:")
	t.Setenv("AGENTCOUNCIL_DATABASE_POOL_MAX_IDLE_CONNS", "7")
	t.Setenv("AGENTCOUNCIL_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("AGENTCOUNCIL_REDIS_TLS", "true")
	t.Setenv("AGENTCOUNCIL_METRICS_ADDR", ":9100")
	t.Setenv("AGENTCOUNCIL_LLM_CIRCUIT_BREAKER_THRESHOLD", "2")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 4, cfg.Meeting.MaxTurns)
	assert.Equal(t, 1.5, cfg.ReWOO.Retry.Multiplier)
	assert.True(t, cfg.Reflection.RewardCorrectDissent)
	assert.Equal(t, 250.5, cfg.Safety.DailyLossLimit)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "council:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 7, cfg.Database.Pool.MaxIdleConns)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Redis.TLS)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, 2, cfg.LLM.CircuitBreaker.Threshold)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeYAML(t, `
llm:
  model: yaml-model
  base_url: https://yaml.example
`)
	t.Setenv("AGENTCOUNCIL_LLM_MODEL", "env-model")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "https://yaml.example", cfg.LLM.BaseURL)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_MEETING_MAX_TURNS", "3")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Meeting.MaxTurns)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AGENTCOUNCIL_MEETING_MAX_DURATION", "forever")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTCOUNCIL_MEETING_MAX_DURATION")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("AGENTCOUNCIL_MEETING_MAX_TURNS", "0")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error { return cfg.Validate() }).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "meeting.max_turns")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/council.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Meeting, cfg.Meeting)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeYAML(t, `
meeting:
  max_turns: [invalid
  this is not valid yaml
`)
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"provider", func(c *Config) { c.LLM.Provider = "llama" }, "llm.provider"},
		{"plan steps", func(c *Config) { c.ReWOO.MaxPlanSteps = 0 }, "rewoo.max_plan_steps"},
		{"attempts", func(c *Config) { c.ReWOO.Retry.MaxAttempts = 0 }, "rewoo.retry.max_attempts"},
		{"unknown role", func(c *Config) { c.Consensus.BaseWeights["astrologer"] = 1 }, "unknown role"},
		{"zero weight", func(c *Config) { c.Consensus.BaseWeights["risk_manager"] = 0 }, "risk_manager must be positive"},
		{"positive penalty", func(c *Config) { c.Reflection.Penalty = 0.1 }, "reflection.penalty"},
		{"bounds", func(c *Config) { c.Reflection.MinWeight = 3 }, "weight bounds"},
		{"journal", func(c *Config) { c.Reflection.Journal = "s3" }, "reflection.journal"},
		{"leverage", func(c *Config) { c.Safety.MaxLeverage = 0.5 }, "safety.max_leverage"},
		{"margin", func(c *Config) { c.Safety.LiquidationMargin = 1 }, "safety.liquidation_margin"},
		{"session store", func(c *Config) { c.Session.Store = "etcd" }, "session.store"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate"},
		{"metric interval", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.MetricInterval = -time.Second
		}, "telemetry.metric_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateReportsAllViolations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Meeting.MaxTurns = 0
	cfg.Reflection.Reward = -1
	cfg.Session.Store = "tape"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "meeting.max_turns must be positive; ")
	assert.Contains(t, msg, "reflection.reward must be >= 0")
	assert.Contains(t, msg, "session.store")
}

// --- 辅助函数测试 ---

func TestMustLoad(t *testing.T) {
	path := writeYAML(t, "meeting:\n  max_turns: 2\n")
	cfg := MustLoad(path)
	assert.Equal(t, 2, cfg.Meeting.MaxTurns)

	bad := writeYAML(t, "meeting: [")
	assert.Panics(t, func() { MustLoad(bad) })
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("AGENTCOUNCIL_SESSION_STORE", "redis")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Session.Store)
}
