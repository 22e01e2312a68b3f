package backtest

import (
	"fmt"
	"time"

	"bandshort/logger"
)

// Ledger 单个标的的回测结果
type Ledger struct {
	Symbol         string        `json:"symbol"`
	Params         Params        `json:"params"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	InitialCapital float64       `json:"initial_capital"`
	FinalCapital   float64       `json:"final_capital"`
	Orders         []OrderRecord `json:"orders"`

	BarsProcessed int   `json:"bars_processed"`
	BarsSkipped   int   `json:"bars_skipped"`
	Signals       int   `json:"signals"`
	Cancelled     int   `json:"cancelled"`
	FinalState    State `json:"final_state"` // 结束时可能仍持有空头，不做虚拟平仓

	Metrics     Metrics     `json:"metrics"`
	RiskMetrics RiskMetrics `json:"risk_metrics"`
}

// Backtester 按时间顺序把K线折叠进状态机
type Backtester struct {
	machine  *Machine
	bars     []Bar
	observer Observer
}

// NewBacktester 创建回测器，observer 为 nil 时按 LogTrades 选择日志或空实现
func NewBacktester(params Params, bars []Bar, observer Observer) (*Backtester, error) {
	m, err := NewMachine(params)
	if err != nil {
		return nil, err
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if params.LogTrades {
		observer = MultiObserver{LogObserver{}, observer}
	}
	return &Backtester{machine: m, bars: bars, observer: observer}, nil
}

// Run 运行回测
func (bt *Backtester) Run() (*Ledger, error) {
	p := bt.machine.Params()
	if len(bt.bars) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFeed, p.Symbol)
	}

	ledger := &Ledger{
		Symbol:         p.Symbol,
		Params:         p,
		StartTime:      bt.bars[0].Time,
		EndTime:        bt.bars[len(bt.bars)-1].Time,
		InitialCapital: p.Capital,
		Orders:         make([]OrderRecord, 0),
	}

	state := NewState(p.Capital)
	var last time.Time
	for i, bar := range bt.bars {
		if !last.IsZero() && !bar.Time.After(last) {
			return nil, &InvariantViolation{Symbol: p.Symbol, At: bar.Time, Detail: "K线时间未严格递增"}
		}
		last = bar.Time

		tr, err := bt.machine.Step(state, bar)
		if err != nil {
			return nil, err
		}
		state = tr.Next
		ledger.BarsProcessed++

		if tr.Skipped {
			ledger.BarsSkipped++
			bt.observer.OnSkip(p.Symbol, bar)
			continue
		}
		if tr.Cancelled {
			ledger.Cancelled++
		}
		for _, o := range tr.Orders {
			ledger.Orders = append(ledger.Orders, o)
			bt.observer.OnOrder(o)
		}
		if tr.Signal {
			ledger.Signals++
			bt.observer.OnSignal(p.Symbol, bar, state)
		}

		if i%50000 == 0 && i > 0 {
			logger.Debug("⏳ [%s] 回测进度: %.1f%%", p.Symbol, float64(i)/float64(len(bt.bars))*100)
		}
	}

	if ledger.BarsSkipped == len(bt.bars) {
		return nil, fmt.Errorf("%w: %s 所有K线都缺少指标值", ErrEmptyFeed, p.Symbol)
	}

	ledger.FinalCapital = state.Capital
	ledger.FinalState = state
	ledger.Metrics = CalculateMetrics(ledger)
	ledger.RiskMetrics = CalculateRiskMetrics(ledger.Orders)
	return ledger, nil
}

// Replay 便捷函数：校验参数并回放一组K线
func Replay(params Params, bars []Bar, observer Observer) (*Ledger, error) {
	bt, err := NewBacktester(params, bars, observer)
	if err != nil {
		return nil, err
	}
	return bt.Run()
}
