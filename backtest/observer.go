package backtest

import (
	"bandshort/logger"
)

// Observer 回测过程回调，仅用于诊断与统计，不影响状态机结果
type Observer interface {
	OnSignal(symbol string, bar Bar, state State)
	OnOrder(order OrderRecord)
	OnSkip(symbol string, bar Bar)
}

// NopObserver 空实现
type NopObserver struct{}

func (NopObserver) OnSignal(string, Bar, State) {}
func (NopObserver) OnOrder(OrderRecord)         {}
func (NopObserver) OnSkip(string, Bar)          {}

// LogObserver 通过 logger 输出信号和成交
type LogObserver struct{}

func (LogObserver) OnSignal(symbol string, bar Bar, s State) {
	logger.Info("📉 [%s] 做空信号 @ %s 收盘:%.2f 上轨:%.2f 确认时间:%s",
		symbol, bar.Time.Format("2006-01-02 15:04"), bar.Close, bar.UpperBand, s.PendingEntryTime.Format("15:04"))
}

func (LogObserver) OnOrder(o OrderRecord) {
	if o.IsExit() {
		logger.Info("✅ [%s] %s @ %s 价格:%.2f 盈亏:%.2f 余额:%.2f",
			o.Instrument, o.Reason, o.Time.Format("2006-01-02 15:04"), o.Price, o.PnL(), o.BalanceAfter)
		return
	}
	logger.Info("🔻 [%s] 开空 @ %s 价格:%.2f SL:%.2f TP:%.2f",
		o.Instrument, o.Time.Format("2006-01-02 15:04"), o.Price, o.StopLossPrice, o.TargetPrice)
}

func (LogObserver) OnSkip(symbol string, bar Bar) {
	logger.Debug("[%s] 跳过不完整K线 @ %s", symbol, bar.Time.Format("2006-01-02 15:04"))
}

// MultiObserver 依次通知多个观察者
type MultiObserver []Observer

func (m MultiObserver) OnSignal(symbol string, bar Bar, s State) {
	for _, o := range m {
		o.OnSignal(symbol, bar, s)
	}
}

func (m MultiObserver) OnOrder(order OrderRecord) {
	for _, o := range m {
		o.OnOrder(order)
	}
}

func (m MultiObserver) OnSkip(symbol string, bar Bar) {
	for _, o := range m {
		o.OnSkip(symbol, bar)
	}
}
