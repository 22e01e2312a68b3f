package backtest

import (
	"math"
	"time"
)

// EquityPoint 平仓后的资金点
type EquityPoint struct {
	Time    time.Time `json:"time"`
	Balance float64   `json:"balance"`
}

// Metrics 回测指标
type Metrics struct {
	// 收益指标
	TotalPnL    float64 `json:"total_pnl"`    // 已实现盈亏合计
	TotalReturn float64 `json:"total_return"` // 总收益率 (%)

	// 风险指标
	MaxDrawdown float64 `json:"max_drawdown"` // 资金曲线最大回撤 (%)

	// 交易指标
	TotalTrades  int     `json:"total_trades"`  // 已平仓交易数
	OpenTrades   int     `json:"open_trades"`   // 结束时未平仓数
	WinRate      float64 `json:"win_rate"`      // 胜率 (%)
	ProfitFactor float64 `json:"profit_factor"` // 利润因子
	AvgWin       float64 `json:"avg_win"`       // 平均盈利
	AvgLoss      float64 `json:"avg_loss"`      // 平均亏损
	LargestWin   float64 `json:"largest_win"`   // 最大单笔盈利
	LargestLoss  float64 `json:"largest_loss"`  // 最大单笔亏损

	// 连续性指标
	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	// 平仓原因分布
	ExitReasons map[Reason]int `json:"exit_reasons"`
}

// CalculateMetrics 计算账本指标
func CalculateMetrics(l *Ledger) Metrics {
	m := Metrics{ExitReasons: make(map[Reason]int)}
	if l == nil {
		return m
	}

	pnls := make([]float64, 0, len(l.Orders)/2)
	entries := 0
	for _, o := range l.Orders {
		if o.IsExit() {
			pnls = append(pnls, o.PnL())
			m.ExitReasons[o.Reason]++
		} else {
			entries++
		}
	}

	m.TotalTrades = len(pnls)
	m.OpenTrades = entries - len(pnls)
	for _, p := range pnls {
		m.TotalPnL += p
	}
	m.TotalPnL = math.Round(m.TotalPnL*100) / 100
	if l.InitialCapital > 0 {
		m.TotalReturn = (l.FinalCapital - l.InitialCapital) / l.InitialCapital * 100
	}

	m.MaxDrawdown = calculateMaxDrawdown(l.InitialCapital, EquityCurve(l))
	m.WinRate = calculateWinRate(pnls)
	m.ProfitFactor = calculateProfitFactor(pnls)
	m.AvgWin, m.LargestWin = calculateWins(pnls)
	m.AvgLoss, m.LargestLoss = calculateLosses(pnls)
	m.MaxConsecutiveWins = calculateMaxStreak(pnls, func(p float64) bool { return p > 0 })
	m.MaxConsecutiveLosses = calculateMaxStreak(pnls, func(p float64) bool { return p < 0 })
	return m
}

// EquityCurve 每笔平仓后的资金余额
func EquityCurve(l *Ledger) []EquityPoint {
	curve := make([]EquityPoint, 0)
	for _, o := range l.Orders {
		if o.IsExit() {
			curve = append(curve, EquityPoint{Time: o.Time, Balance: o.BalanceAfter})
		}
	}
	return curve
}

// calculateMaxDrawdown 计算最大回撤，以初始资金为起点
func calculateMaxDrawdown(initial float64, curve []EquityPoint) float64 {
	maxDrawdown := 0.0
	peak := initial

	for _, point := range curve {
		if point.Balance > peak {
			peak = point.Balance
		}
		if peak > 0 {
			drawdown := (peak - point.Balance) / peak * 100
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}
	return maxDrawdown
}

// calculateWinRate 计算胜率
func calculateWinRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls)) * 100
}

// calculateProfitFactor 计算利润因子（总盈利 / 总亏损）
func calculateProfitFactor(pnls []float64) float64 {
	totalProfit, totalLoss := 0.0, 0.0
	for _, p := range pnls {
		if p > 0 {
			totalProfit += p
		} else {
			totalLoss += math.Abs(p)
		}
	}
	if totalLoss == 0 {
		return 0
	}
	return totalProfit / totalLoss
}

// calculateWins 平均盈利与最大单笔盈利
func calculateWins(pnls []float64) (avg, largest float64) {
	total, n := 0.0, 0
	for _, p := range pnls {
		if p > 0 {
			total += p
			n++
			if p > largest {
				largest = p
			}
		}
	}
	if n > 0 {
		avg = total / float64(n)
	}
	return avg, largest
}

// calculateLosses 平均亏损与最大单笔亏损（正数）
func calculateLosses(pnls []float64) (avg, largest float64) {
	total, n := 0.0, 0
	for _, p := range pnls {
		if p < 0 {
			loss := math.Abs(p)
			total += loss
			n++
			if loss > largest {
				largest = loss
			}
		}
	}
	if n > 0 {
		avg = total / float64(n)
	}
	return avg, largest
}

// calculateMaxStreak 满足条件的最长连续次数
func calculateMaxStreak(pnls []float64, match func(float64) bool) int {
	best, cur := 0, 0
	for _, p := range pnls {
		if match(p) {
			cur++
			if cur > best {
				best = cur
			}
		} else {
			cur = 0
		}
	}
	return best
}
