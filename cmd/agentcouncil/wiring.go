package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent"
	"github.com/BaSui01/agentcouncil/agent/collaboration"
	"github.com/BaSui01/agentcouncil/agent/persistence"
	"github.com/BaSui01/agentcouncil/agent/reasoning"
	"github.com/BaSui01/agentcouncil/agent/reflection"
	"github.com/BaSui01/agentcouncil/agent/safety"
	"github.com/BaSui01/agentcouncil/config"
	"github.com/BaSui01/agentcouncil/internal/broker"
	"github.com/BaSui01/agentcouncil/internal/cache"
	"github.com/BaSui01/agentcouncil/internal/database"
	"github.com/BaSui01/agentcouncil/internal/hosterr"
	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/internal/pool"
	"github.com/BaSui01/agentcouncil/internal/server"
	"github.com/BaSui01/agentcouncil/internal/telemetry"
	"github.com/BaSui01/agentcouncil/llm"
	"github.com/BaSui01/agentcouncil/llm/circuitbreaker"
	"github.com/BaSui01/agentcouncil/llm/factory"
	"github.com/BaSui01/agentcouncil/llm/providers"
	"github.com/BaSui01/agentcouncil/llm/retry"
	"github.com/BaSui01/agentcouncil/types"
)

// =============================================================================
// 🔌 依赖装配
// =============================================================================
// app 持有一次命令运行所需的全部基础设施。Redis、数据库、Kafka 按需连接，
// close 按创建的逆序释放。
// =============================================================================

const (
	metricsNamespace = "agentcouncil"
	shutdownTimeout  = 5 * time.Second
)

type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	sanitizer *hosterr.Sanitizer
	otel      *telemetry.Providers

	mu       sync.Mutex
	cache    *cache.Manager
	db       *database.PoolManager
	producer *broker.Producer
	pool     *pool.GoroutinePool
	sessions persistence.SessionStore
	weights  reflection.WeightStore
	closers  []func(context.Context)
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.metrics = metrics.NewCollector(metricsNamespace, logger, a.registry)

	var sanitizerOpts []hosterr.Option
	if cfg.Sentry.DSN != "" {
		tracker, err := hosterr.NewSentryTracker(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			SampleRate:       cfg.Sentry.SampleRate,
			AttachStacktrace: true,
		})
		if err != nil {
			return nil, err
		}
		sanitizerOpts = append(sanitizerOpts, hosterr.WithTracker(tracker))
	}
	a.sanitizer = hosterr.NewSanitizer(logger, sanitizerOpts...)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.otel = otelProviders

	if cfg.Metrics.Addr != "" {
		srv := server.NewMetricsManager(a.registry, cfg.Metrics, logger)
		if err := srv.Start(); err != nil {
			return nil, err
		}
		a.onClose(func(ctx context.Context) { _ = srv.Shutdown(ctx) })
	}
	return a, nil
}

func (a *app) onClose(fn func(context.Context)) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

// close 释放资源并刷新遥测与错误上报
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i](ctx)
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	a.sanitizer.Flush(2 * time.Second)
}

// fail 把内部错误转换为可展示的错误，细节只进入日志与 Sentry
func (a *app) fail(ctx context.Context, err error) hosterr.PublicError {
	return a.sanitizer.Sanitize(ctx, err)
}

// =============================================================================
// 🧱 按需连接的基础设施
// =============================================================================

func (a *app) redis() (*cache.Manager, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache != nil {
		return a.cache, nil
	}
	mgr, err := cache.NewManager(a.cfg.Redis, a.logger)
	if err != nil {
		return nil, err
	}
	a.cache = mgr
	a.closers = append(a.closers, func(context.Context) { _ = mgr.Close() })
	return mgr, nil
}

func (a *app) database() (*database.PoolManager, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return a.db, nil
	}
	pm, err := database.Open(a.cfg.Database, a.logger)
	if err != nil {
		return nil, err
	}
	a.db = pm
	a.closers = append(a.closers, func(context.Context) { _ = pm.Close() })
	return pm, nil
}

func (a *app) kafka() *broker.Producer {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.producer == nil {
		p := broker.NewProducer(a.cfg.Kafka, a.logger)
		a.producer = p
		a.closers = append(a.closers, func(context.Context) { _ = p.Close() })
	}
	return a.producer
}

func (a *app) workers() *pool.GoroutinePool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pool == nil {
		p := pool.NewGoroutinePool(pool.DefaultConfig(), a.logger)
		a.pool = p
		a.closers = append(a.closers, func(context.Context) { p.Close() })
	}
	return a.pool
}

// =============================================================================
// 🤖 领域组件
// =============================================================================

// provider 按配置创建 Provider，并统一加上熔断
func (a *app) provider(ctx context.Context) (llm.Provider, error) {
	c := a.cfg.LLM
	var p llm.Provider
	if strings.EqualFold(c.Provider, "mock") {
		p = newOfflineProvider()
	} else {
		var err error
		p, err = factory.NewProviderFromConfig(ctx, c.Provider, providers.Config{
			APIKey:  c.APIKey,
			BaseURL: c.BaseURL,
			Model:   c.Model,
			Timeout: c.Timeout,
		}, a.logger)
		if err != nil {
			return nil, err
		}
	}
	return circuitbreaker.Wrap(p, circuitbreaker.NewBreaker(c.CircuitBreaker, a.logger)), nil
}

func (a *app) reasoningConfig() reasoning.Config {
	rc := reasoning.DefaultConfig()
	c := a.cfg.ReWOO
	rc.MaxPlanSteps = c.MaxPlanSteps
	rc.ToolTimeout = c.ToolTimeout
	rc.MaxConcurrency = c.MaxConcurrency
	if a.cfg.LLM.Timeout > 0 {
		rc.LLMTimeout = a.cfg.LLM.Timeout
	}
	rc.PlanModel = firstNonEmpty(a.cfg.LLM.PlanModel, a.cfg.LLM.Model)
	rc.SolveModel = firstNonEmpty(a.cfg.LLM.SolveModel, a.cfg.LLM.Model)
	policy := retry.PolicyFromAttempts(c.Retry.MaxAttempts, c.Retry.InitialDelay, c.Retry.MaxDelay, c.Retry.Multiplier)
	rc.PlanRetry = policy
	rc.SolveRetry = policy
	return rc
}

func (a *app) meetingConfig(leaderID string) collaboration.Config {
	c := a.cfg.Meeting
	return collaboration.Config{
		MaxTurns:       c.MaxTurns,
		MaxDuration:    c.MaxDuration,
		LeaderID:       leaderID,
		SummaryRetries: c.SummaryRetries,
		SummaryTimeout: c.SummaryTimeout,
		ParallelTurns:  c.ParallelTurns,
	}
}

// profiles 默认角色配置叠加 consensus.base_weights 覆盖
func (a *app) profiles() []agent.RoleProfile {
	out := agent.DefaultProfiles()
	for i := range out {
		if w, ok := a.cfg.Consensus.BaseWeights[string(out[i].Role)]; ok {
			out[i].BaseWeight = w
		}
	}
	return out
}

func (a *app) bounds() reflection.Bounds {
	return reflection.Bounds{Min: a.cfg.Reflection.MinWeight, Max: a.cfg.Reflection.MaxWeight}
}

func (a *app) weightStore() (reflection.WeightStore, error) {
	a.mu.Lock()
	cached := a.weights
	a.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	var (
		store reflection.WeightStore
		err   error
	)
	switch a.cfg.Reflection.WeightStore {
	case "redis":
		mgr, rerr := a.redis()
		if rerr != nil {
			return nil, rerr
		}
		store, err = reflection.NewRedisWeightStore(mgr, a.bounds(), a.logger)
	default:
		store, err = reflection.NewMemoryWeightStore(a.bounds(), nil)
	}
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.weights = store
	a.mu.Unlock()
	return store, nil
}

// sessionStore 同一次运行内复用，memory 存储才能在命令之间共享
func (a *app) sessionStore() (persistence.SessionStore, error) {
	a.mu.Lock()
	cached := a.sessions
	a.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	sc := persistence.StoreConfig{
		Type:    persistence.StoreType(a.cfg.Session.Store),
		BaseDir: a.cfg.Session.BaseDir,
	}
	var mgr *cache.Manager
	if sc.Type == persistence.StoreTypeRedis {
		var err error
		if mgr, err = a.redis(); err != nil {
			return nil, err
		}
	}
	store, err := persistence.NewSessionStore(sc, mgr, a.logger)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.sessions = store
	a.closers = append(a.closers, func(context.Context) { _ = store.Close() })
	a.mu.Unlock()
	return store, nil
}

func (a *app) journal() (reflection.Journal, error) {
	switch a.cfg.Reflection.Journal {
	case "none", "":
		return reflection.NopJournal{}, nil
	case "database":
		pm, err := a.database()
		if err != nil {
			return nil, err
		}
		return reflection.NewDatabaseJournal(pm)
	case "kafka":
		return reflection.NewKafkaJournal(a.kafka(), a.cfg.Reflection.KafkaTopic), nil
	default:
		return reflection.NewLogJournal(a.logger), nil
	}
}

func (a *app) reflectionEngine() (*reflection.Engine, error) {
	store, err := a.weightStore()
	if err != nil {
		return nil, err
	}
	journal, err := a.journal()
	if err != nil {
		return nil, err
	}
	rc := a.cfg.Reflection
	return reflection.NewEngine(store, reflection.Policy{
		Reward:               rc.Reward,
		Penalty:              rc.Penalty,
		RewardCorrectDissent: rc.RewardCorrectDissent,
	},
		reflection.WithLogger(a.logger),
		reflection.WithMetrics(a.metrics),
		reflection.WithJournal(journal),
		reflection.WithPool(a.workers()),
	)
}

// eventSink 生命周期事件总是写日志；eventsTopic 非空时同时发布到 Kafka
func (a *app) eventSink(eventsTopic string) types.EventSink {
	sinks := agent.MultiSink{agent.NewLogSink(a.logger)}
	if eventsTopic != "" {
		ks := agent.NewKafkaSink(a.kafka(), eventsTopic, 256, a.logger)
		a.onClose(func(context.Context) { ks.Close() })
		sinks = append(sinks, ks)
	}
	return sinks
}

func (a *app) guard(sink types.EventSink) (*safety.Guard, error) {
	sc := a.cfg.Safety
	cfg := safety.Config{
		MaxLeverage:       decimal.NewFromFloat(sc.MaxLeverage),
		MinPositionSize:   decimal.NewFromFloat(sc.MinPositionSize),
		MaxPositionSize:   decimal.NewFromFloat(sc.MaxPositionSize),
		DailyLossLimit:    decimal.NewFromFloat(sc.DailyLossLimit),
		CooldownLosses:    sc.CooldownLosses,
		CooldownPeriod:    sc.CooldownPeriod,
		LiquidationMargin: decimal.NewFromFloat(sc.LiquidationMargin),
		MaintenanceMargin: decimal.NewFromFloat(sc.MaintenanceMargin),
		StartupWindow:     sc.StartupWindow,
		RequireStopLoss:   sc.RequireStopLoss,
	}
	return safety.NewGuard(cfg, safety.NewMemoryLedger(),
		safety.WithLogger(a.logger),
		safety.WithMetrics(a.metrics),
		safety.WithEventSink(sink),
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}
