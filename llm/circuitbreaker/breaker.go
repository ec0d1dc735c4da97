package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/llm"
	"github.com/BaSui01/agentcouncil/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 正常放行
	StateClosed State = iota
	// StateOpen 熔断中，直接拒绝
	StateOpen
	// StateHalfOpen 试探性放行少量请求
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen 熔断期间的拒绝，不可重试
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config 熔断器配置
type Config struct {
	// 连续失败次数阈值
	Threshold int `yaml:"threshold" json:"threshold"`
	// Open -> HalfOpen 的等待时间
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
	// 半开状态下允许的试探请求数
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" json:"half_open_max_calls"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Option 配置 Breaker
type Option func(*Breaker)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange 状态变化回调，在持锁外同步调用
func WithStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker 按连续失败次数熔断的状态机
type Breaker struct {
	config   Config
	logger   *zap.Logger
	now      func() time.Time
	onChange func(from, to State)

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	halfOpenUsed int
}

// NewBreaker 创建熔断器，非法配置项回退到默认值
func NewBreaker(config Config, logger *zap.Logger, opts ...Option) *Breaker {
	def := DefaultConfig()
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = def.ResetTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{
		config: config,
		logger: logger.With(zap.String("component", "circuit_breaker")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Outcome 一次放行调用的结果
type Outcome int

const (
	Success Outcome = iota
	Failure
	// Ignored 不计入统计，只归还半开名额
	Ignored
)

// Allow 申请一次调用。放行时返回的 done 必须以调用结果调用一次。
func (b *Breaker) Allow() (done func(Outcome), err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.ResetTimeout {
			b.mu.Unlock()
			return nil, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenUsed = 0
		fallthrough
	case StateHalfOpen:
		if b.halfOpenUsed >= b.config.HalfOpenMaxCalls {
			b.mu.Unlock()
			b.notify(from, StateHalfOpen)
			return nil, ErrCircuitOpen
		}
		b.halfOpenUsed++
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)

	var once sync.Once
	return func(o Outcome) {
		once.Do(func() { b.record(o) })
	}, nil
}

func (b *Breaker) record(o Outcome) {
	b.mu.Lock()
	from := b.state
	switch o {
	case Ignored:
		if b.state == StateHalfOpen && b.halfOpenUsed > 0 {
			b.halfOpenUsed--
		}
	case Success:
		b.failures = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.halfOpenUsed = 0
		}
	default:
		b.failures++
		if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.config.Threshold) {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
	to, failures := b.state, b.failures
	b.mu.Unlock()

	if from != to {
		b.logger.Warn("circuit breaker state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Int("consecutive_failures", failures),
		)
	}
	b.notify(from, to)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}

// State 当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.halfOpenUsed = 0
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

// =============================================================================
// 🔌 Provider 装饰器
// =============================================================================

type provider struct {
	inner   llm.Provider
	breaker *Breaker
}

// Wrap 为 Provider 加上熔断：熔断期间直接返回不可重试的 PROVIDER_UNAVAILABLE，
// 避免上层重试继续冲击故障的上游。
func Wrap(p llm.Provider, b *Breaker) llm.Provider {
	return &provider{inner: p, breaker: b}
}

func (p *provider) Name() string { return p.inner.Name() }

func (p *provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	done, err := p.breaker.Allow()
	if err != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable,
			fmt.Sprintf("provider %s temporarily disabled", p.inner.Name()), err).
			WithRetryable(false).WithProvider(p.inner.Name())
	}
	resp, err := p.inner.Completion(ctx, req)
	switch {
	case err == nil:
		done(Success)
	case countsAsFailure(ctx, err):
		done(Failure)
	default:
		// 请求本身的问题或调用方取消，不代表上游故障
		done(Ignored)
	}
	return resp, err
}

func countsAsFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return false
	}
	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest, types.ErrToolValidation:
		return false
	}
	return true
}
