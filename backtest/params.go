package backtest

import (
	"fmt"
	"strings"
	"time"
)

// Lifecycle 订单生命周期，决定是否日内强平
type Lifecycle string

const (
	IntradayOnly Lifecycle = "IntradayOnly"
	CarryForward Lifecycle = "CarryForward"
)

// ParseLifecycle 解析生命周期，兼容券商订单类型 MIS/CNC/NRML
func ParseLifecycle(s string) (Lifecycle, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "MIS", "INTRADAY", "INTRADAYONLY":
		return IntradayOnly, nil
	case "CNC", "NRML", "CARRYFORWARD", "CARRY_FORWARD":
		return CarryForward, nil
	default:
		return "", fmt.Errorf("%w: 未知的订单类型 %q", ErrConfiguration, s)
	}
}

// TimeOfDay 一天中的时刻（自零点起的秒数）
type TimeOfDay int

// NewTimeOfDay 由时分构造
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60)
}

// ParseTimeOfDay 解析 "15:04" 或 "15:04:05"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04", "15-04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("%w: 无效的时间 %q", ErrConfiguration, s)
}

// TimeOfDayOf 取时间戳在其自身时区下的时刻
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

// Add 加上一段时长，可能为负
func (d TimeOfDay) Add(dur time.Duration) TimeOfDay {
	return d + TimeOfDay(dur/time.Second)
}

// Valid 是否落在一天之内
func (d TimeOfDay) Valid() bool {
	return d >= 0 && d < 24*3600
}

func (d TimeOfDay) String() string {
	h, m, s := int(d)/3600, int(d)%3600/60, int(d)%60
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// MarshalText 实现 encoding.TextMarshaler
func (d TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (d *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Params 单个标的的回测参数
type Params struct {
	Symbol          string        `json:"symbol"`
	Quantity        int           `json:"quantity"`
	Capital         float64       `json:"capital"`
	StopLossPercent float64       `json:"stop_loss_percent"`
	TargetPercent   float64       `json:"target_percent"`
	PreferStopLoss  bool          `json:"prefer_stop_loss"` // SL 与 TP 同时触发时按 SL 平仓
	Lifecycle       Lifecycle     `json:"lifecycle"`
	BarInterval     time.Duration `json:"bar_interval"`
	SessionStart    TimeOfDay     `json:"session_start"`
	SessionEnd      TimeOfDay     `json:"session_end"`
	StartDate       time.Time     `json:"start_date"`
	EndDate         time.Time     `json:"end_date"`
	LogTrades       bool          `json:"log_trades"`

	TickSize      float64   `json:"tick_size"`
	SquareOffTime TimeOfDay `json:"square_off_time"` // 日内强平时刻
	EntryCutoff   TimeOfDay `json:"entry_cutoff"`    // 此时刻及之后不再开仓
}

// DefaultParams NSE 现货的默认参数
func DefaultParams() Params {
	return Params{
		Quantity:        10,
		Capital:         100000,
		StopLossPercent: 0.2,
		TargetPercent:   0.2,
		PreferStopLoss:  true,
		Lifecycle:       IntradayOnly,
		BarInterval:     time.Minute,
		SessionStart:    NewTimeOfDay(9, 15),
		SessionEnd:      NewTimeOfDay(15, 30),
		TickSize:        DefaultTickSize,
		SquareOffTime:   NewTimeOfDay(15, 15),
		EntryCutoff:     NewTimeOfDay(15, 15),
	}
}

// Validate 校验参数，失败时返回包装了 ErrConfiguration 的错误
func (p Params) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("%w: 标的不能为空", ErrConfiguration)
	}
	if !p.StartDate.IsZero() && p.StartDate.Equal(p.EndDate) {
		return fmt.Errorf("%w: 开始时间与结束时间不能相同", ErrConfiguration)
	}
	if !p.StartDate.IsZero() && !p.EndDate.IsZero() && p.EndDate.Before(p.StartDate) {
		return fmt.Errorf("%w: 结束时间早于开始时间", ErrConfiguration)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("%w: 数量必须大于0", ErrConfiguration)
	}
	if p.Capital <= 0 {
		return fmt.Errorf("%w: 资金必须大于0", ErrConfiguration)
	}
	if p.StopLossPercent <= 0 {
		return fmt.Errorf("%w: 止损百分比必须大于0", ErrConfiguration)
	}
	if p.TargetPercent <= 0 {
		return fmt.Errorf("%w: 止盈百分比必须大于0", ErrConfiguration)
	}
	if p.BarInterval <= 0 {
		return fmt.Errorf("%w: K线周期必须大于0", ErrConfiguration)
	}
	if p.TickSize <= 0 {
		return fmt.Errorf("%w: 最小变动价位必须大于0", ErrConfiguration)
	}
	if p.Lifecycle != IntradayOnly && p.Lifecycle != CarryForward {
		return fmt.Errorf("%w: 未知的订单类型 %q", ErrConfiguration, p.Lifecycle)
	}
	for name, tod := range map[string]TimeOfDay{
		"session_start":   p.SessionStart,
		"session_end":     p.SessionEnd,
		"square_off_time": p.SquareOffTime,
		"entry_cutoff":    p.EntryCutoff,
	} {
		if !tod.Valid() {
			return fmt.Errorf("%w: %s 超出一天范围", ErrConfiguration, name)
		}
	}
	if p.SessionStart >= p.SessionEnd {
		return fmt.Errorf("%w: 交易时段开始 %s 不早于结束 %s", ErrConfiguration, p.SessionStart, p.SessionEnd)
	}
	return nil
}

// signalCutoff 最后可以发出信号的时刻（不含）
func (p Params) signalCutoff() TimeOfDay {
	end := p.SessionEnd
	if p.Lifecycle == IntradayOnly {
		end = p.SquareOffTime
	}
	return end.Add(-p.BarInterval)
}
