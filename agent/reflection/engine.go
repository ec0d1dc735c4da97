package reflection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/internal/pool"
	"github.com/BaSui01/agentcouncil/types"
)

// Policy 权重调整策略
type Policy struct {
	Reward               float64 `yaml:"reward" json:"reward"`                                 // 方向正确时的增量
	Penalty              float64 `yaml:"penalty" json:"penalty"`                               // 方向错误时的增量（非正数）
	RewardCorrectDissent bool    `yaml:"reward_correct_dissent" json:"reward_correct_dissent"` // 异议者方向正确时是否加分
}

// DefaultPolicy +0.05 / -0.03，不奖励正确异议
func DefaultPolicy() Policy {
	return Policy{Reward: 0.05, Penalty: -0.03}
}

// Validate 校验策略
func (p Policy) Validate() error {
	if p.Reward < 0 {
		return fmt.Errorf("reflection reward must be >= 0, got %v", p.Reward)
	}
	if p.Penalty > 0 {
		return fmt.Errorf("reflection penalty must be <= 0, got %v", p.Penalty)
	}
	return nil
}

// Outcome 一次决策的实际结果。FavorableDirection 为空表示结果中性，不调整权重。
type Outcome struct {
	SessionID          string                `json:"session_id"`
	Consensus          types.ConsensusResult `json:"consensus"`
	FavorableDirection types.Direction       `json:"favorable_direction,omitempty"`
	PnL                decimal.Decimal       `json:"pnl"`
	At                 time.Time             `json:"at"`
}

// TradeOutcome 根据平仓盈亏推断事后正确的方向：盈利时共识方向正确；
// 亏损时反方向正确（hold 没有反方向）；盈亏为零时结果中性。
func TradeOutcome(sessionID string, consensus types.ConsensusResult, pnl decimal.Decimal) Outcome {
	out := Outcome{SessionID: sessionID, Consensus: consensus, PnL: pnl, At: time.Now()}
	switch pnl.Sign() {
	case 1:
		out.FavorableDirection = consensus.Direction
	case -1:
		if opp, ok := consensus.Direction.Opposite(); ok {
			out.FavorableDirection = opp
		}
	}
	return out
}

// Record 一次反思的结构化记录
type Record struct {
	SessionID          string             `json:"session_id"`
	Direction          types.Direction    `json:"direction"`
	FavorableDirection types.Direction    `json:"favorable_direction,omitempty"`
	PnL                decimal.Decimal    `json:"pnl"`
	AgentCredit        map[string]float64 `json:"agent_credit"`
	Weights            map[string]float64 `json:"weights"`
	Timestamp          time.Time          `json:"timestamp"`
}

// Option 配置 Engine
type Option func(*Engine)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithJournal 设置反思日志
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
		}
	}
}

// WithPool 设置执行日志写入的任务池；未设置时每次写入启动一个协程
func WithPool(p *pool.GoroutinePool) Option {
	return func(e *Engine) { e.pool = p }
}

// WithJournalTimeout 设置单次日志写入超时
func WithJournalTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.journalTimeout = d
		}
	}
}

// Engine 把实际结果归因到投票者并调整权重
type Engine struct {
	store          WeightStore
	policy         Policy
	journal        Journal
	pool           *pool.GoroutinePool
	journalTimeout time.Duration
	metrics        *metrics.Collector
	logger         *zap.Logger
}

// NewEngine 创建反思引擎
func NewEngine(store WeightStore, policy Policy, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "reflection engine requires a weight store")
	}
	if err := policy.Validate(); err != nil {
		return nil, types.WrapError(types.ErrInvalidRequest, "invalid reflection policy", err)
	}
	e := &Engine{
		store:          store,
		policy:         policy,
		journal:        NopJournal{},
		journalTimeout: 5 * time.Second,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "reflection"))
	return e, nil
}

// Policy 返回当前策略
func (e *Engine) Policy() Policy { return e.policy }

// credit 返回某张投票应得的增量，false 表示不调整
func (e *Engine) credit(winner, favorable, voted types.Direction) (float64, bool) {
	if voted == winner {
		if voted == favorable {
			return e.policy.Reward, true
		}
		return e.policy.Penalty, true
	}
	if e.policy.RewardCorrectDissent && voted == favorable {
		return e.policy.Reward, true
	}
	return 0, false
}

// Reflect 按结果调整参与共识的 Agent 权重并异步写入日志。
// 单个 Agent 调整失败不会中断其他 Agent，所有失败合并后返回。
func (e *Engine) Reflect(ctx context.Context, out Outcome) (Record, error) {
	if out.At.IsZero() {
		out.At = time.Now()
	}
	rec := Record{
		SessionID:          out.SessionID,
		Direction:          out.Consensus.Direction,
		FavorableDirection: out.FavorableDirection,
		PnL:                out.PnL,
		AgentCredit:        make(map[string]float64),
		Weights:            make(map[string]float64),
		Timestamp:          out.At,
	}

	var errs []error
	if out.FavorableDirection != "" {
		for _, wv := range out.Consensus.ContributingVotes {
			id := wv.Vote.AgentID
			if _, done := rec.AgentCredit[id]; done {
				continue
			}
			delta, ok := e.credit(out.Consensus.Direction, out.FavorableDirection, wv.Vote.Direction)
			if !ok {
				continue
			}
			w, err := e.store.Adjust(ctx, id, delta)
			if err != nil {
				e.logger.Error("weight adjust failed",
					zap.String("session_id", out.SessionID),
					zap.String("agent_id", id),
					zap.Error(err))
				errs = append(errs, fmt.Errorf("agent %s: %w", id, err))
				continue
			}
			rec.AgentCredit[id] = delta
			rec.Weights[id] = w
			e.metrics.SetAgentWeight(id, w)
		}
	}

	e.logger.Info("reflection applied",
		zap.String("session_id", out.SessionID),
		zap.String("direction", string(out.Consensus.Direction)),
		zap.String("favorable", string(out.FavorableDirection)),
		zap.String("pnl", out.PnL.String()),
		zap.Int("adjusted", len(rec.AgentCredit)),
	)
	e.write(ctx, rec)
	return rec, errors.Join(errs...)
}

// write 不阻塞调用方，失败只记录日志
func (e *Engine) write(ctx context.Context, rec Record) {
	task := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, e.journalTimeout)
		defer cancel()
		return e.journal.Write(ctx, rec)
	}
	if e.pool != nil {
		if err := e.pool.Submit(ctx, "reflection_journal", task); err != nil {
			e.logger.Warn("reflection journal write dropped", zap.String("session_id", rec.SessionID), zap.Error(err))
		}
		return
	}
	go func() {
		if err := task(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("reflection journal write failed", zap.String("session_id", rec.SessionID), zap.Error(err))
		}
	}()
}
