package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/types"
)

// 检查名称，出现在 SafetyDecision.Check 与指标标签中
const (
	CheckLock        = "lock"
	CheckStartup     = "startup_protection"
	CheckDailyLoss   = "daily_loss"
	CheckCooldown    = "cooldown"
	CheckParameters  = "parameters"
	CheckLiquidation = "liquidation"
)

// Config 安全闸门配置
type Config struct {
	MaxLeverage       decimal.Decimal `yaml:"max_leverage" json:"max_leverage"`
	MinPositionSize   decimal.Decimal `yaml:"min_position_size" json:"min_position_size"`
	MaxPositionSize   decimal.Decimal `yaml:"max_position_size" json:"max_position_size"`
	DailyLossLimit    decimal.Decimal `yaml:"daily_loss_limit" json:"daily_loss_limit"` // 0 表示不限制
	CooldownLosses    int             `yaml:"cooldown_losses" json:"cooldown_losses"`   // 0 表示关闭冷却
	CooldownPeriod    time.Duration   `yaml:"cooldown_period" json:"cooldown_period"`
	LiquidationMargin decimal.Decimal `yaml:"liquidation_margin" json:"liquidation_margin"`
	MaintenanceMargin decimal.Decimal `yaml:"maintenance_margin" json:"maintenance_margin"`
	StartupWindow     time.Duration   `yaml:"startup_window" json:"startup_window"`
	RequireStopLoss   bool            `yaml:"require_stop_loss" json:"require_stop_loss"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxLeverage:       decimal.NewFromInt(10),
		MinPositionSize:   decimal.RequireFromString("0.001"),
		MaxPositionSize:   decimal.NewFromInt(10),
		DailyLossLimit:    decimal.NewFromInt(500),
		CooldownLosses:    3,
		CooldownPeriod:    time.Hour,
		LiquidationMargin: decimal.RequireFromString("0.05"),
		MaintenanceMargin: decimal.RequireFromString("0.005"),
		StartupWindow:     10 * time.Minute,
		RequireStopLoss:   true,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.MaxLeverage.LessThan(one) {
		return fmt.Errorf("max_leverage must be >= 1, got %s", c.MaxLeverage)
	}
	if c.MinPositionSize.IsNegative() || c.MaxPositionSize.LessThan(c.MinPositionSize) {
		return fmt.Errorf("invalid position size bounds [%s, %s]", c.MinPositionSize, c.MaxPositionSize)
	}
	if c.DailyLossLimit.IsNegative() {
		return fmt.Errorf("daily_loss_limit must be >= 0")
	}
	if c.LiquidationMargin.IsNegative() || c.LiquidationMargin.GreaterThanOrEqual(one) {
		return fmt.Errorf("liquidation_margin must be in [0, 1)")
	}
	if c.MaintenanceMargin.IsNegative() || c.MaintenanceMargin.GreaterThanOrEqual(one) {
		return fmt.Errorf("maintenance_margin must be in [0, 1)")
	}
	return nil
}

// Option 配置 Guard
type Option func(*Guard)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Guard) { g.metrics = c }
}

// WithEventSink 设置 action_gated / action_rejected 事件输出
func WithEventSink(sink types.EventSink) Option {
	return func(g *Guard) {
		if sink != nil {
			g.sink = sink
		}
	}
}

// WithClock 替换时钟，启动时间也取自该时钟
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// Guard 安全闸门
type Guard struct {
	cfg     Config
	ledger  Ledger
	locks   *KeyedLock
	started time.Time
	now     func() time.Time
	sink    types.EventSink
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewGuard 创建安全闸门，创建时刻作为启动保护窗口的起点
func NewGuard(cfg Config, ledger Ledger, opts ...Option) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, types.WrapError(types.ErrInvalidRequest, "invalid safety config", err)
	}
	if ledger == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "safety guard requires a ledger")
	}
	g := &Guard{
		cfg:    cfg,
		ledger: ledger,
		locks:  NewKeyedLock(),
		now:    time.Now,
		sink:   types.NopSink{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.started = g.now()
	g.logger = g.logger.With(zap.String("component", "safety_guard"))
	return g, nil
}

// Check 依次执行各项检查，遇到第一项失败即返回拒绝。
// 允许时资源锁保持到调用 release；拒绝时锁已释放，release 为空操作。
func (g *Guard) Check(ctx context.Context, action Action) (types.SafetyDecision, func()) {
	release, ok := g.locks.TryAcquire(action.Resource)
	if !ok {
		d := types.Reject(CheckLock, fmt.Sprintf("another action for %s is in progress", action.Resource))
		g.report(ctx, action, d)
		return d, func() {}
	}

	d := g.evaluate(ctx, action)
	g.report(ctx, action, d)
	if !d.Allowed {
		release()
		return d, func() {}
	}
	return d, release
}

func (g *Guard) evaluate(ctx context.Context, a Action) types.SafetyDecision {
	if a.Resource == "" {
		return types.Reject(CheckParameters, "action has no resource")
	}
	if a.Side != SideLong && a.Side != SideShort && a.Side != SideClose {
		return types.Reject(CheckParameters, fmt.Sprintf("unknown side %q", a.Side))
	}
	now := g.now()

	if d, failed := g.checkStartup(ctx, a, now); failed {
		return d
	}
	if a.RiskIncreasing {
		if d, failed := g.checkDailyLoss(ctx, now); failed {
			return d
		}
		if d, failed := g.checkCooldown(ctx, now); failed {
			return d
		}
	}
	if a.Side == SideClose {
		return types.Allow()
	}
	return g.checkParameters(a)
}

func (g *Guard) checkStartup(ctx context.Context, a Action, now time.Time) (types.SafetyDecision, bool) {
	if a.ReverseOverride || a.Side == SideClose || now.Sub(g.started) >= g.cfg.StartupWindow {
		return types.SafetyDecision{}, false
	}
	pos, ok, err := g.ledger.OpenPosition(ctx, a.Resource)
	if err != nil {
		return ledgerFailure(CheckStartup, err), true
	}
	if ok && pos.Side == a.Side.Opposite() {
		d := types.Reject(CheckStartup, fmt.Sprintf(
			"system started %s ago; refusing to reverse open %s position on %s without override",
			now.Sub(g.started).Truncate(time.Second), pos.Side, a.Resource))
		d.Details = map[string]string{"open_side": string(pos.Side), "open_size": pos.Size.String()}
		return d, true
	}
	return types.SafetyDecision{}, false
}

func (g *Guard) checkDailyLoss(ctx context.Context, now time.Time) (types.SafetyDecision, bool) {
	if g.cfg.DailyLossLimit.IsZero() {
		return types.SafetyDecision{}, false
	}
	loss, err := g.ledger.RealizedLossToday(ctx, now)
	if err != nil {
		return ledgerFailure(CheckDailyLoss, err), true
	}
	if loss.GreaterThanOrEqual(g.cfg.DailyLossLimit) {
		d := types.Reject(CheckDailyLoss, fmt.Sprintf("daily realized loss %s reached limit %s", loss, g.cfg.DailyLossLimit))
		d.Details = map[string]string{"realized_loss": loss.String(), "limit": g.cfg.DailyLossLimit.String()}
		return d, true
	}
	return types.SafetyDecision{}, false
}

func (g *Guard) checkCooldown(ctx context.Context, now time.Time) (types.SafetyDecision, bool) {
	n := g.cfg.CooldownLosses
	if n <= 0 || g.cfg.CooldownPeriod <= 0 {
		return types.SafetyDecision{}, false
	}
	recent, err := g.ledger.RecentClosed(ctx, n)
	if err != nil {
		return ledgerFailure(CheckCooldown, err), true
	}
	if len(recent) < n {
		return types.SafetyDecision{}, false
	}
	for _, t := range recent {
		if !t.IsLoss() {
			return types.SafetyDecision{}, false
		}
	}
	until := recent[0].ClosedAt.Add(g.cfg.CooldownPeriod)
	if now.Before(until) {
		d := types.Reject(CheckCooldown, fmt.Sprintf("%d consecutive losses; cooling down for %s", n, until.Sub(now).Truncate(time.Second)))
		d.Details = map[string]string{"until": until.UTC().Format(time.RFC3339)}
		return d, true
	}
	return types.SafetyDecision{}, false
}

func (g *Guard) checkParameters(a Action) types.SafetyDecision {
	if a.Leverage.LessThan(one) || a.Leverage.GreaterThan(g.cfg.MaxLeverage) {
		return types.Reject(CheckParameters, fmt.Sprintf("leverage %s outside [1, %s]", a.Leverage, g.cfg.MaxLeverage))
	}
	if a.Size.LessThan(g.cfg.MinPositionSize) || a.Size.GreaterThan(g.cfg.MaxPositionSize) || !a.Size.IsPositive() {
		return types.Reject(CheckParameters, fmt.Sprintf("position size %s outside [%s, %s]", a.Size, g.cfg.MinPositionSize, g.cfg.MaxPositionSize))
	}
	if !a.EntryPrice.IsPositive() {
		return types.Reject(CheckParameters, "entry price must be positive")
	}

	long := a.Side == SideLong
	if !a.TakeProfit.IsZero() {
		if (long && a.TakeProfit.LessThanOrEqual(a.EntryPrice)) || (!long && a.TakeProfit.GreaterThanOrEqual(a.EntryPrice)) {
			return types.Reject(CheckParameters, fmt.Sprintf("take-profit %s is on the wrong side of entry %s for %s", a.TakeProfit, a.EntryPrice, a.Side))
		}
	}
	if a.StopLoss.IsZero() {
		if g.cfg.RequireStopLoss && a.RiskIncreasing {
			return types.Reject(CheckParameters, "stop-loss is required")
		}
		return types.Allow()
	}
	if (long && a.StopLoss.GreaterThanOrEqual(a.EntryPrice)) || (!long && a.StopLoss.LessThanOrEqual(a.EntryPrice)) {
		return types.Reject(CheckParameters, fmt.Sprintf("stop-loss %s is on the wrong side of entry %s for %s", a.StopLoss, a.EntryPrice, a.Side))
	}

	liq := LiquidationPrice(a.EntryPrice, a.Leverage, a.Side, g.cfg.MaintenanceMargin)
	safe := SafeStopLoss(liq, a.Side, g.cfg.LiquidationMargin)
	if (long && safe.GreaterThanOrEqual(a.EntryPrice)) || (!long && safe.LessThanOrEqual(a.EntryPrice)) {
		// 杠杆过高：强平价加安全边际已越过开仓价，不存在合法止损
		d := types.Reject(CheckLiquidation, fmt.Sprintf(
			"leverage %s leaves no room for a stop-loss: liquidation at %s with %s%% margin is beyond entry %s; lower leverage",
			a.Leverage, liq.StringFixed(2), g.cfg.LiquidationMargin.Shift(2), a.EntryPrice))
		d.Details = map[string]string{
			"liquidation_price": liq.StringFixed(2),
		}
		return d
	}
	if (long && a.StopLoss.LessThan(safe)) || (!long && a.StopLoss.GreaterThan(safe)) {
		d := types.Reject(CheckLiquidation, fmt.Sprintf(
			"stop-loss %s does not trigger before liquidation at %s with %s%% margin; use %s or tighter",
			a.StopLoss, liq.StringFixed(2), g.cfg.LiquidationMargin.Shift(2), safe.StringFixed(2)))
		d.Details = map[string]string{
			"liquidation_price": liq.StringFixed(2),
			"safe_stop_loss":    safe.StringFixed(2),
		}
		return d
	}
	return types.Allow()
}

func ledgerFailure(check string, err error) types.SafetyDecision {
	return types.Reject(check, "ledger unavailable: "+err.Error())
}

func (g *Guard) report(ctx context.Context, a Action, d types.SafetyDecision) {
	g.metrics.RecordSafetyDecision(d.Check, d.Allowed)
	payload := map[string]any{
		"resource":        a.Resource,
		"side":            string(a.Side),
		"risk_increasing": a.RiskIncreasing,
		"allowed":         d.Allowed,
	}
	evt := types.EventActionGated
	if !d.Allowed {
		evt = types.EventActionRejected
		payload["check"] = d.Check
		payload["reason"] = d.Reason
		for k, v := range d.Details {
			payload[k] = v
		}
		g.logger.Warn("action rejected",
			zap.String("resource", a.Resource),
			zap.String("side", string(a.Side)),
			zap.String("check", d.Check),
			zap.String("reason", d.Reason))
	} else {
		g.logger.Info("action allowed", zap.String("resource", a.Resource), zap.String("side", string(a.Side)))
	}
	g.sink.Emit(ctx, types.NewEvent(evt, a.SessionID, "", payload))
}

// Rejection 把拒绝的判定转换为 SAFETY_REJECTED 错误
func Rejection(d types.SafetyDecision) error {
	if d.Allowed {
		return nil
	}
	return types.NewError(types.ErrSafetyRejected, fmt.Sprintf("%s: %s", d.Check, d.Reason))
}
