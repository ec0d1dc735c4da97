package safety

import (
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// LiquidationPrice 逐仓强平价。
// long: entry × (1 − 1/leverage + mm)；short: entry × (1 + 1/leverage − mm)
func LiquidationPrice(entry, leverage decimal.Decimal, side Side, maintenanceMargin decimal.Decimal) decimal.Decimal {
	inv := one.Div(leverage)
	if side == SideShort {
		return entry.Mul(one.Add(inv).Sub(maintenanceMargin))
	}
	return entry.Mul(one.Sub(inv).Add(maintenanceMargin))
}

// SafeStopLoss 在强平价外留出 margin 比例的止损价。
// long: liq × (1 + margin)；short: liq × (1 − margin)
func SafeStopLoss(liquidation decimal.Decimal, side Side, margin decimal.Decimal) decimal.Decimal {
	if side == SideShort {
		return liquidation.Mul(one.Sub(margin))
	}
	return liquidation.Mul(one.Add(margin))
}
