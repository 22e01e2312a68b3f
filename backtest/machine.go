package backtest

import (
	"fmt"
)

// Transition 单根K线的处理结果
//
// 同一根K线上可能先开仓再触发止损/止盈，因此 Orders 最多两条。
type Transition struct {
	Next    State         `json:"next"`
	Orders  []OrderRecord `json:"orders,omitempty"`
	Signal  bool          `json:"signal"`  // 本K线产生了新信号
	Skipped bool          `json:"skipped"` // K线字段不完整，未参与计算
	// Cancelled 待确认信号在本K线被取消
	Cancelled bool `json:"cancelled"`
}

// Machine 布林带上轨突破做空状态机，本身无状态
type Machine struct {
	params Params
}

// NewMachine 校验参数后创建状态机
func NewMachine(params Params) (*Machine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Machine{params: params}, nil
}

// Params 返回状态机参数
func (m *Machine) Params() Params {
	return m.params
}

// Step 纯函数：输入当前状态和一根K线，返回下一状态及产生的订单
//
// 处理顺序固定：
//  1. 上一根K线标记了趋势反转，按开盘价平仓
//  2. 待确认信号在确认K线上开仓，否则取消
//  3. 持仓中：日内强平优先，其次止损/止盈，仍持仓且收盘回到上轨内则标记反转
//  4. 空仓且无信号：收盘突破上轨且早于信号截止时刻则发出信号
func (m *Machine) Step(s State, bar Bar) (Transition, error) {
	if !bar.Valid() {
		return Transition{Next: s, Skipped: true}, nil
	}
	if !s.Consistent() {
		return Transition{Next: s}, m.violation(bar, fmt.Sprintf("输入状态不一致: %+v", s))
	}

	p := m.params
	tr := Transition{Next: s}
	next := &tr.Next
	tod := TimeOfDayOf(bar.Time)

	// 1. 趋势反转平仓
	if next.ReverseFlag {
		tr.Orders = append(tr.Orders, m.exit(next, bar, bar.Open, ReasonTrendReversed))
	}

	// 2. 信号确认
	if next.SignalPending {
		if bar.Time.Equal(*next.PendingEntryTime) && tod < p.EntryCutoff && affordable(next.Capital, bar.Open, p.Quantity) {
			rec, err := m.enter(next, bar)
			if err != nil {
				return Transition{Next: s}, err
			}
			tr.Orders = append(tr.Orders, rec)
		} else {
			next.SignalPending = false
			next.PendingEntryTime = nil
			tr.Cancelled = true
		}
	}

	// 3. 持仓管理
	squaredOff := false
	if next.InPosition {
		switch {
		case p.Lifecycle == IntradayOnly && tod >= p.SquareOffTime:
			tr.Orders = append(tr.Orders, m.exit(next, bar, bar.Open, ReasonAutoSquaredOff))
			squaredOff = true
		default:
			sl, tp := *next.StopLossPrice, *next.TargetPrice
			slHit := sl <= bar.Open || sl <= bar.High
			tpHit := tp >= bar.Open || tp >= bar.Low
			switch {
			case slHit && (p.PreferStopLoss || !tpHit):
				tr.Orders = append(tr.Orders, m.exit(next, bar, sl, ReasonStopLossHit))
			case tpHit:
				tr.Orders = append(tr.Orders, m.exit(next, bar, tp, ReasonTargetHit))
			}
			if next.InPosition && bar.Close < bar.UpperBand {
				next.ReverseFlag = true
			}
		}
	}

	// 4. 新信号
	if !squaredOff && !next.InPosition && !next.SignalPending &&
		bar.Close > bar.UpperBand && tod < p.signalCutoff() {
		entryAt := bar.Time.Add(p.BarInterval)
		next.SignalPending = true
		next.PendingEntryTime = &entryAt
		tr.Signal = true
	}

	if !next.Consistent() {
		return Transition{Next: s}, m.violation(bar, fmt.Sprintf("输出状态不一致: %+v", *next))
	}
	return tr, nil
}

// enter 按开盘价开空，资金不变
func (m *Machine) enter(s *State, bar Bar) (OrderRecord, error) {
	p := m.params
	if s.StopLossPrice != nil || s.TargetPrice != nil {
		return OrderRecord{}, m.violation(bar, "开仓时止损/止盈价已存在")
	}
	price := bar.Open
	sl := StopLossPrice(price, p.StopLossPercent, p.TickSize)
	tp := TargetPrice(price, p.TargetPercent, p.TickSize)

	s.SignalPending = false
	s.PendingEntryTime = nil
	s.InPosition = true
	s.EntryPrice = ptr(price)
	s.StopLossPrice = ptr(sl)
	s.TargetPrice = ptr(tp)

	return OrderRecord{
		Instrument:    p.Symbol,
		Time:          bar.Time,
		Side:          SideShort,
		Price:         price,
		Quantity:      p.Quantity,
		Notional:      Notional(price, p.Quantity),
		StopLossPrice: sl,
		TargetPrice:   tp,
		Status:        StatusRunning,
		Reason:        ReasonEntry,
		BalanceAfter:  s.Capital,
	}, nil
}

// exit 买回平仓，已实现盈亏计入资金，同时清除止损/止盈与反转标记
func (m *Machine) exit(s *State, bar Bar, price float64, reason Reason) OrderRecord {
	p := m.params
	pnl := RealizedPnL(*s.EntryPrice, price, p.Quantity)
	s.Capital = addMoney(s.Capital, pnl)

	rec := OrderRecord{
		Instrument:    p.Symbol,
		Time:          bar.Time,
		Side:          SideLong,
		Price:         price,
		Quantity:      p.Quantity,
		Notional:      Notional(price, p.Quantity),
		StopLossPrice: *s.StopLossPrice,
		TargetPrice:   *s.TargetPrice,
		Status:        StatusClosed,
		Reason:        reason,
		BalanceAfter:  s.Capital,
		RealizedPnL:   ptr(pnl),
	}

	s.InPosition = false
	s.EntryPrice = nil
	s.StopLossPrice = nil
	s.TargetPrice = nil
	s.ReverseFlag = false
	return rec
}

func (m *Machine) violation(bar Bar, detail string) error {
	return &InvariantViolation{Symbol: m.params.Symbol, At: bar.Time, Detail: detail}
}
