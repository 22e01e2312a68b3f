package runner

import (
	"sort"
	"time"
)

// Report 一次运行的全部结果
type Report struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Results    map[string]Result `json:"results"`
}

// Summary 汇总统计
type Summary struct {
	RunID          string   `json:"run_id"`
	Instruments    int      `json:"instruments"`
	Succeeded      int      `json:"succeeded"`
	Failed         int      `json:"failed"`
	TotalTrades    int      `json:"total_trades"`
	TotalPnL       float64  `json:"total_pnl"`
	InitialCapital float64  `json:"initial_capital"`
	FinalCapital   float64  `json:"final_capital"`
	FailedSymbols  []string `json:"failed_symbols,omitempty"`
}

func (r *Report) add(res Result) {
	// 同一标的重复提交时保留第一个结果
	if _, exists := r.Results[res.Symbol]; exists {
		return
	}
	r.Results[res.Symbol] = res
}

// Symbols 按名称排序的标的列表
func (r *Report) Symbols() []string {
	symbols := make([]string, 0, len(r.Results))
	for sym := range r.Results {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// Summary 汇总所有标的
func (r *Report) Summary() Summary {
	s := Summary{RunID: r.RunID, Instruments: len(r.Results)}
	for _, sym := range r.Symbols() {
		res := r.Results[sym]
		if !res.OK() {
			s.Failed++
			s.FailedSymbols = append(s.FailedSymbols, sym)
			continue
		}
		s.Succeeded++
		s.TotalTrades += res.Ledger.Metrics.TotalTrades
		s.TotalPnL += res.Ledger.Metrics.TotalPnL
		s.InitialCapital += res.Ledger.InitialCapital
		s.FinalCapital += res.Ledger.FinalCapital
	}
	return s
}

// AllFailed 没有任何标的成功
func (r *Report) AllFailed() bool {
	s := r.Summary()
	return s.Instruments > 0 && s.Succeeded == 0
}
