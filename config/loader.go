// =============================================================================
// 📦 AgentCouncil 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("council.yaml").
//	    WithEnvPrefix("AGENTCOUNCIL").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentcouncil/internal/broker"
	"github.com/BaSui01/agentcouncil/internal/cache"
	"github.com/BaSui01/agentcouncil/internal/database"
	"github.com/BaSui01/agentcouncil/internal/server"
	"github.com/BaSui01/agentcouncil/llm/circuitbreaker"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "AGENTCOUNCIL"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentCouncil 的完整配置结构。
// 未写 env tag 的字段使用大写的 yaml 名作为环境变量名。
type Config struct {
	Log        LogConfig        `yaml:"log" env:"LOG"`
	LLM        LLMConfig        `yaml:"llm" env:"LLM"`
	ReWOO      ReWOOConfig      `yaml:"rewoo" env:"REWOO"`
	Meeting    MeetingConfig    `yaml:"meeting" env:"MEETING"`
	Consensus  ConsensusConfig  `yaml:"consensus" env:"CONSENSUS"`
	Reflection ReflectionConfig `yaml:"reflection" env:"REFLECTION"`
	Safety     SafetyConfig     `yaml:"safety" env:"SAFETY"`
	Session    SessionConfig    `yaml:"session" env:"SESSION"`

	// 基础设施，结构体由各自的包定义
	Redis    cache.Config    `yaml:"redis" env:"REDIS"`
	Database database.Config `yaml:"database" env:"DATABASE"`
	Kafka    broker.Config   `yaml:"kafka" env:"KAFKA"`
	// Metrics.Addr 为空时不暴露指标端点
	Metrics server.Config `yaml:"metrics" env:"METRICS"`

	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Sentry    SentryConfig    `yaml:"sentry" env:"SENTRY"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// Provider: openai, gemini, deepseek, qwen, kimi, glm, mock（离线演示）
	Provider string `yaml:"provider" env:"PROVIDER"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// Plan 阶段模型，为空时使用 Model
	PlanModel string `yaml:"plan_model" env:"PLAN_MODEL"`
	// Solve 阶段模型，为空时使用 Model
	SolveModel string `yaml:"solve_model" env:"SOLVE_MODEL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选，兼容 OpenAI 协议的服务）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 上游连续失败时熔断
	CircuitBreaker circuitbreaker.Config `yaml:"circuit_breaker" env:"CIRCUIT_BREAKER"`
}

// RetryConfig LLM 调用重试配置
type RetryConfig struct {
	// 总尝试次数（含首次）
	MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// ReWOOConfig Plan/Execute/Solve 执行器配置
type ReWOOConfig struct {
	MaxPlanSteps int `yaml:"max_plan_steps" env:"MAX_PLAN_STEPS"`
	// 单次工具调用超时
	ToolTimeout time.Duration `yaml:"tool_timeout" env:"TOOL_TIMEOUT"`
	// 单回合工具并发上限，0 表示不限制
	MaxConcurrency int         `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	Retry          RetryConfig `yaml:"retry" env:"RETRY"`
}

// MeetingConfig 会议配置
type MeetingConfig struct {
	MaxTurns       int           `yaml:"max_turns" env:"MAX_TURNS"`
	MaxDuration    time.Duration `yaml:"max_duration" env:"MAX_DURATION"`
	SummaryRetries int           `yaml:"summary_retries" env:"SUMMARY_RETRIES"`
	SummaryTimeout time.Duration `yaml:"summary_timeout" env:"SUMMARY_TIMEOUT"`
	// 同一轮内并发执行的回合数，<=1 表示严格顺序
	ParallelTurns int `yaml:"parallel_turns" env:"PARALLEL_TURNS"`
}

// ConsensusConfig 共识配置
type ConsensusConfig struct {
	// 按角色覆盖静态权重先验，未列出的角色使用内置默认值
	BaseWeights map[string]float64 `yaml:"base_weights" env:"-"`
}

// ReflectionConfig 反思配置
type ReflectionConfig struct {
	Reward               float64 `yaml:"reward" env:"REWARD"`
	Penalty              float64 `yaml:"penalty" env:"PENALTY"`
	RewardCorrectDissent bool    `yaml:"reward_correct_dissent" env:"REWARD_CORRECT_DISSENT"`
	MinWeight            float64 `yaml:"min_weight" env:"MIN_WEIGHT"`
	MaxWeight            float64 `yaml:"max_weight" env:"MAX_WEIGHT"`
	// 权重存储: memory, redis
	WeightStore string `yaml:"weight_store" env:"WEIGHT_STORE"`
	// 反思记录去向: none, log, database, kafka
	Journal string `yaml:"journal" env:"JOURNAL"`
	// Kafka 主题，journal=kafka 时生效
	KafkaTopic string `yaml:"kafka_topic" env:"KAFKA_TOPIC"`
}

// SafetyConfig 安全闸门配置，金额与比例在使用时转为定点小数
type SafetyConfig struct {
	MaxLeverage       float64       `yaml:"max_leverage" env:"MAX_LEVERAGE"`
	MinPositionSize   float64       `yaml:"min_position_size" env:"MIN_POSITION_SIZE"`
	MaxPositionSize   float64       `yaml:"max_position_size" env:"MAX_POSITION_SIZE"`
	DailyLossLimit    float64       `yaml:"daily_loss_limit" env:"DAILY_LOSS_LIMIT"`
	CooldownLosses    int           `yaml:"cooldown_losses" env:"COOLDOWN_LOSSES"`
	CooldownPeriod    time.Duration `yaml:"cooldown_period" env:"COOLDOWN_PERIOD"`
	LiquidationMargin float64       `yaml:"liquidation_margin" env:"LIQUIDATION_MARGIN"`
	MaintenanceMargin float64       `yaml:"maintenance_margin" env:"MAINTENANCE_MARGIN"`
	StartupWindow     time.Duration `yaml:"startup_window" env:"STARTUP_WINDOW"`
	RequireStopLoss   bool          `yaml:"require_stop_loss" env:"REQUIRE_STOP_LOSS"`
}

// SessionConfig 会话日志存储配置
type SessionConfig struct {
	// 存储类型: memory, file, redis
	Store string `yaml:"store" env:"STORE"`
	// file 存储的根目录
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率（根 span 按比例采样，子 span 跟随父 span）
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 是否使用明文 gRPC 连接 collector；false 时走 TLS
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 指标导出周期
	MetricInterval time.Duration `yaml:"metric_interval" env:"METRIC_INTERVAL"`
	// 部署环境，写入 deployment.environment 资源属性
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

// SentryConfig Sentry 错误上报配置，DSN 为空时关闭
type SentryConfig struct {
	DSN         string  `yaml:"dsn" env:"DSN"`
	Environment string  `yaml:"environment" env:"ENVIRONMENT"`
	SampleRate  float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// envName 返回字段对应的环境变量名片段，空串表示跳过
func envName(f reflect.StructField) string {
	tag := f.Tag.Get("env")
	if tag == "-" {
		return ""
	}
	if tag != "" {
		return tag
	}
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if name == "-" {
		return ""
	}
	return strings.ToUpper(name)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		name := envName(fieldType)
		if name == "" || !fieldType.IsExported() {
			continue
		}

		envKey := prefix + "_" + name

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}
