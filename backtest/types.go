package backtest

import (
	"math"
	"time"
)

// Side 订单方向
type Side string

const (
	SideShort Side = "Short" // 卖出开仓
	SideLong  Side = "Long"  // 买回平仓
)

// Status 订单状态
type Status string

const (
	StatusRunning Status = "Running"
	StatusClosed  Status = "Closed"
)

// Reason 成交原因
type Reason string

const (
	ReasonEntry          Reason = "Entry"
	ReasonStopLossHit    Reason = "SL Hit"
	ReasonTargetHit      Reason = "TP Hit"
	ReasonTrendReversed  Reason = "Trend Reversed"
	ReasonAutoSquaredOff Reason = "Auto SquaredOff"
)

// IsExit 是否为平仓原因
func (r Reason) IsExit() bool {
	return r != ReasonEntry
}

// Bar 已附带布林带的K线
type Bar struct {
	Time       time.Time `json:"time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	UpperBand  float64   `json:"upper_band"`
	MiddleBand float64   `json:"middle_band"`
	LowerBand  float64   `json:"lower_band"`
}

// Valid 所有字段都有定义时返回 true，预热期的 NaN 带宽返回 false
func (b Bar) Valid() bool {
	if b.Time.IsZero() {
		return false
	}
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close, b.UpperBand, b.MiddleBand, b.LowerBand} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// OrderRecord 不可变的成交记录
type OrderRecord struct {
	Instrument    string    `json:"instrument"`
	Time          time.Time `json:"time"`
	Side          Side      `json:"side"`
	Price         float64   `json:"price"`
	Quantity      int       `json:"quantity"`
	Notional      float64   `json:"notional"`
	StopLossPrice float64   `json:"stop_loss_price"`
	TargetPrice   float64   `json:"target_price"`
	Status        Status    `json:"status"`
	Reason        Reason    `json:"reason"`
	BalanceAfter  float64   `json:"balance_after"`
	RealizedPnL   *float64  `json:"realized_pnl,omitempty"` // 仅平仓记录有值
}

// IsExit 是否为平仓记录
func (o OrderRecord) IsExit() bool {
	return o.Side == SideLong
}

// PnL 平仓盈亏，开仓记录返回 0
func (o OrderRecord) PnL() float64 {
	if o.RealizedPnL == nil {
		return 0
	}
	return *o.RealizedPnL
}

// State 单个标的的策略状态
//
// Flat: 无信号无持仓；SignalPending: 已突破等待确认K线；Short: 持有空头。
// StopLossPrice 与 TargetPrice 同时存在或同时缺失。
type State struct {
	SignalPending    bool       `json:"signal_pending"`
	InPosition       bool       `json:"in_position"`
	PendingEntryTime *time.Time `json:"pending_entry_time,omitempty"`
	StopLossPrice    *float64   `json:"stop_loss_price,omitempty"`
	TargetPrice      *float64   `json:"target_price,omitempty"`
	EntryPrice       *float64   `json:"entry_price,omitempty"`
	Capital          float64    `json:"capital"`
	ReverseFlag      bool       `json:"reverse_flag"`
}

// NewState 以初始资金创建空仓状态
func NewState(capital float64) State {
	return State{Capital: capital}
}

// Phase 当前所处阶段名称
func (s State) Phase() string {
	switch {
	case s.InPosition:
		return "Short"
	case s.SignalPending:
		return "SignalPending"
	default:
		return "Flat"
	}
}

// Consistent 检查状态字段之间的约束
func (s State) Consistent() bool {
	if (s.StopLossPrice == nil) != (s.TargetPrice == nil) {
		return false
	}
	if s.InPosition != (s.EntryPrice != nil) || s.InPosition != (s.StopLossPrice != nil) {
		return false
	}
	if s.SignalPending != (s.PendingEntryTime != nil) {
		return false
	}
	if s.SignalPending && s.InPosition {
		return false
	}
	if s.ReverseFlag && !s.InPosition {
		return false
	}
	return true
}

func ptr[T any](v T) *T {
	return &v
}
