package safety

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/BaSui01/agentcouncil/types"
)

// Side 订单方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideClose Side = "close"
)

// Opposite 返回反方向，close 没有反方向
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	}
	return ""
}

// SideFor 把共识方向映射为开仓方向。中性方向不产生动作。
func SideFor(d types.Direction) (Side, bool) {
	switch d {
	case types.DirectionLong:
		return SideLong, true
	case types.DirectionShort:
		return SideShort, true
	}
	return "", false
}

// Action 一个待执行的外部动作
type Action struct {
	SessionID       string          `json:"session_id,omitempty"`
	Resource        string          `json:"resource"`
	Side            Side            `json:"side"`
	RiskIncreasing  bool            `json:"risk_increasing"`
	Leverage        decimal.Decimal `json:"leverage"`
	Size            decimal.Decimal `json:"size"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	StopLoss        decimal.Decimal `json:"stop_loss"`
	TakeProfit      decimal.Decimal `json:"take_profit"`
	ReverseOverride bool            `json:"reverse_override,omitempty"`
}

// Position 未平仓头寸
type Position struct {
	Resource   string          `json:"resource"`
	Side       Side            `json:"side"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// ClosedTrade 已平仓交易
type ClosedTrade struct {
	Resource string          `json:"resource"`
	PnL      decimal.Decimal `json:"pnl"`
	ClosedAt time.Time       `json:"closed_at"`
}

// IsLoss 亏损交易
func (t ClosedTrade) IsLoss() bool { return t.PnL.IsNegative() }
