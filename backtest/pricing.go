package backtest

import (
	"github.com/shopspring/decimal"
)

// DefaultTickSize NSE 现货最小变动价位
const DefaultTickSize = 0.05

var hundred = decimal.NewFromInt(100)

// RoundToTick 四舍五入到最近的 tick，再保留4位小数
//
// 以十进制精确值计算价格与 tick 的比值，恰好落在两个 tick 中间时取偶数个 tick，
// 如 288.075 → 288.10。用二进制浮点做除法时中点会有微小偏差，
// 那样的实现在这类价格上可能相差一个 tick。
func RoundToTick(price, tick float64) float64 {
	t := decimal.NewFromFloat(tick)
	v := decimal.NewFromFloat(price).Div(t).RoundBank(0).Mul(t).Round(4)
	f, _ := v.Float64()
	return f
}

// StopLossPrice 空头止损价：entry*(1+pct/100)，保留4位后按 tick 取整
func StopLossPrice(entry, pct, tick float64) float64 {
	raw := decimal.NewFromFloat(entry).Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(pct).Div(hundred)))
	f, _ := raw.Round(4).Float64()
	return RoundToTick(f, tick)
}

// TargetPrice 空头止盈价：entry*(1-pct/100)，保留2位后按 tick 取整
func TargetPrice(entry, pct, tick float64) float64 {
	raw := decimal.NewFromFloat(entry).Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(pct).Div(hundred)))
	f, _ := raw.Round(2).Float64()
	return RoundToTick(f, tick)
}

// RealizedPnL 空头平仓盈亏 (entry-exit)*qty，保留2位
func RealizedPnL(entry, exit float64, quantity int) float64 {
	pnl := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(exit)).Mul(decimal.NewFromInt(int64(quantity)))
	f, _ := pnl.Round(2).Float64()
	return f
}

// Notional 成交金额 price*qty
func Notional(price float64, quantity int) float64 {
	f, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(quantity))).Round(4).Float64()
	return f
}

// addMoney 资金累加，保留2位
func addMoney(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Round(2).Float64()
	return f
}

// affordable 资金是否覆盖 price*qty
func affordable(capital, price float64, quantity int) bool {
	need := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(quantity)))
	return decimal.NewFromFloat(capital).GreaterThanOrEqual(need)
}
