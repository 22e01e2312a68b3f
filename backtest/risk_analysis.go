package backtest

import (
	"math"
	"sort"
)

// RiskMetrics 单笔空头交易的尾部风险，收益率以开仓名义金额为分母
type RiskMetrics struct {
	Trades         int     `json:"trades"`
	VaR95          float64 `json:"var_95"`  // 百分比，正数表示亏损
	VaR99          float64 `json:"var_99"`
	CVaR95         float64 `json:"cvar_95"` // 最差 5% 交易的平均亏损
	CVaR99         float64 `json:"cvar_99"`
	WorstTradeLoss float64 `json:"worst_trade_loss"` // 金额
}

// CalculateRiskMetrics 按开平仓配对计算，未平仓的开仓记录不计入
func CalculateRiskMetrics(orders []OrderRecord) RiskMetrics {
	returns := tradeReturns(orders)
	if len(returns) == 0 {
		return RiskMetrics{}
	}

	rm := RiskMetrics{Trades: len(returns)}
	for _, o := range orders {
		if o.IsExit() && -o.PnL() > rm.WorstTradeLoss {
			rm.WorstTradeLoss = -o.PnL()
		}
	}

	sort.Float64s(returns)
	rm.VaR95, rm.CVaR95 = tail(returns, 0.95)
	rm.VaR99, rm.CVaR99 = tail(returns, 0.99)
	return rm
}

func tradeReturns(orders []OrderRecord) []float64 {
	var returns []float64
	entryNotional := 0.0
	for _, o := range orders {
		if !o.IsExit() {
			entryNotional = o.Notional
			continue
		}
		if entryNotional > 0 {
			returns = append(returns, o.PnL()/entryNotional)
		}
		entryNotional = 0
	}
	return returns
}

// tail 历史模拟法，sorted 升序；全部盈利时两项都为 0
func tail(sorted []float64, confidence float64) (valueAtRisk, expectedShortfall float64) {
	idx := int(float64(len(sorted)) * (1 - confidence))
	idx = min(max(idx, 0), len(sorted)-1)

	if sorted[idx] < 0 {
		valueAtRisk = -sorted[idx] * 100
	}
	sum := 0.0
	for _, r := range sorted[:idx+1] {
		sum += r
	}
	if mean := sum / float64(idx+1); mean < 0 {
		expectedShortfall = math.Abs(mean) * 100
	}
	return valueAtRisk, expectedShortfall
}
