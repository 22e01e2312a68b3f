package backtest

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func at(hour, minute int) time.Time {
	return time.Date(2023, 7, 28, hour, minute, 0, 0, ist)
}

func testParams() Params {
	p := DefaultParams()
	p.Symbol = "HDFCBANK"
	p.Quantity = 10
	p.Capital = 100000
	return p
}

func newTestMachine(t *testing.T, mutate func(p *Params)) *Machine {
	t.Helper()
	p := testParams()
	if mutate != nil {
		mutate(&p)
	}
	m, err := NewMachine(p)
	require.NoError(t, err)
	return m
}

// mkBar 构造K线，中轨/下轨只需有定义
func mkBar(ts time.Time, open, high, low, close, upper float64) Bar {
	return Bar{Time: ts, Open: open, High: high, Low: low, Close: close, UpperBand: upper, MiddleBand: upper - 2, LowerBand: upper - 4}
}

// shortState 已持有空头的状态
func shortState(entry, sl, tp float64) State {
	s := NewState(100000)
	s.InPosition = true
	s.EntryPrice = ptr(entry)
	s.StopLossPrice = ptr(sl)
	s.TargetPrice = ptr(tp)
	return s
}

func TestBreakoutThenConfirmation(t *testing.T) {
	m := newTestMachine(t, nil)
	s := NewState(100000)

	tr, err := m.Step(s, mkBar(at(10, 0), 104, 105.5, 103.8, 105, 100))
	require.NoError(t, err)
	assert.True(t, tr.Signal)
	assert.Empty(t, tr.Orders)
	assert.True(t, tr.Next.SignalPending)
	require.NotNil(t, tr.Next.PendingEntryTime)
	assert.True(t, at(10, 1).Equal(*tr.Next.PendingEntryTime))
	assert.Equal(t, "SignalPending", tr.Next.Phase())

	tr, err = m.Step(tr.Next, mkBar(at(10, 1), 106, 106.1, 105.9, 106, 100))
	require.NoError(t, err)
	require.Len(t, tr.Orders, 1)

	entry := tr.Orders[0]
	assert.Equal(t, ReasonEntry, entry.Reason)
	assert.Equal(t, SideShort, entry.Side)
	assert.Equal(t, StatusRunning, entry.Status)
	assert.Equal(t, 106.0, entry.Price)
	assert.Equal(t, 1060.0, entry.Notional)
	assert.Equal(t, 106.20, entry.StopLossPrice)
	assert.Equal(t, 105.80, entry.TargetPrice)
	assert.Equal(t, 100000.0, entry.BalanceAfter, "开仓不影响资金")
	assert.Nil(t, entry.RealizedPnL)
	assert.True(t, at(10, 1).Equal(entry.Time))

	assert.True(t, tr.Next.InPosition)
	assert.False(t, tr.Next.SignalPending)
	assert.Nil(t, tr.Next.PendingEntryTime)
}

func TestStopLossPreferredOnConflict(t *testing.T) {
	bar := mkBar(at(11, 0), 104, 109, 99, 99.5, 100)

	m := newTestMachine(t, nil)
	tr, err := m.Step(shortState(104, 108, 100), bar)
	require.NoError(t, err)
	require.Len(t, tr.Orders, 1)
	exit := tr.Orders[0]
	assert.Equal(t, ReasonStopLossHit, exit.Reason)
	assert.Equal(t, 108.0, exit.Price)
	assert.Equal(t, SideLong, exit.Side)
	assert.Equal(t, StatusClosed, exit.Status)
	require.NotNil(t, exit.RealizedPnL)
	assert.Equal(t, -40.0, *exit.RealizedPnL)
	assert.Equal(t, 99960.0, exit.BalanceAfter)
	assert.Equal(t, "Flat", tr.Next.Phase())

	m = newTestMachine(t, func(p *Params) { p.PreferStopLoss = false })
	tr, err = m.Step(shortState(104, 108, 100), bar)
	require.NoError(t, err)
	require.Len(t, tr.Orders, 1)
	assert.Equal(t, ReasonTargetHit, tr.Orders[0].Reason)
	assert.Equal(t, 100.0, tr.Orders[0].Price)
	assert.Equal(t, 100040.0, tr.Next.Capital)
}

func TestStopLossWithoutTargetExitsWhenNotPreferred(t *testing.T) {
	m := newTestMachine(t, func(p *Params) { p.PreferStopLoss = false })
	tr, err := m.Step(shortState(104, 108, 100), mkBar(at(11, 0), 104, 108.5, 103, 108, 110))
	require.NoError(t, err)
	require.Len(t, tr.Orders, 1)
	assert.Equal(t, ReasonStopLossHit, tr.Orders[0].Reason)
}

func TestGapThroughTriggers(t *testing.T) {
	m := newTestMachine(t, nil)

	// 开盘跳空越过止损
	tr, err := m.Step(shortState(104, 108, 100), mkBar(at(11, 0), 108, 108, 107.5, 107.8, 110))
	require.NoError(t, err)
	require.Len(t, tr.Orders, 1)
	assert.Equal(t, ReasonStopLossHit, tr.Orders[0].Reason)

	// 开盘跳空低于止盈
	tr, err = m.Step(shortState(104, 108, 100), mkBar(at(11, 0), 100, 100.5, 99.8, 100.4, 90))
	require.NoError(t, err)
	require.Len(t, tr.Orders, 1)
	assert.Equal(t, ReasonTargetHit, tr.Orders[0].Reason)
	assert.Equal(t, 100.0, tr.Orders[0].Price)
}

func TestCapitalInsufficientCancelsSignal(t *testing.T) {
	m := newTestMachine(t, func(p *Params) { p.Capital = 1000 })
	s := NewState(1000)

	tr, err := m.Step(s, mkBar(at(10, 0), 104, 105.5, 103.8, 105, 100))
	require.NoError(t, err)
	require.True(t, tr.Next.SignalPending)

	tr, err = m.Step(tr.Next, mkBar(at(10, 1), 106, 106.1, 98.9, 99, 100))
	require.NoError(t, err)
	assert.Empty(t, tr.Orders)
	assert.True(t, tr.Cancelled)
	assert.Equal(t, "Flat", tr.Next.Phase())
	assert.Nil(t, tr.Next.PendingEntryTime)
	assert.Equal(t, 1000.0, tr.Next.Capital)
}

func TestPendingSignalCancelledOnGap(t *testing.T) {
	m := newTestMachine(t, nil)
	tr, err := m.Step(NewState(100000), mkBar(at(10, 0), 104, 105.5, 103.8, 105, 100))
	require.NoError(t, err)

	// 确认K线缺失，下一根有效K线时间不匹配
	tr, err = m.Step(tr.Next, mkBar(at(10, 2), 106, 106.1, 98.9, 99, 100))
	require.NoError(t, err)
	assert.Empty(t, tr.Orders)
	assert.True(t, tr.Cancelled)
	assert.False(t, tr.Next.SignalPending)
}

func TestIntradaySquareOff(t *testing.T) {
	m := newTestMachine(t, nil)

	// 止损与止盈同时满足，仍按开盘价强平
	tr, err := m.Step(shortState(104, 108, 100), mkBar(at(15, 15), 103, 109, 99, 101, 100))
	require.NoError(t, err)
	require.Len(t, tr.Orders, 1)
	assert.Equal(t, ReasonAutoSquaredOff, tr.Orders[0].Reason)
	assert.Equal(t, 103.0, tr.Orders[0].Price)
	assert.Equal(t, 10.0, tr.Orders[0].PnL())
	assert.False(t, tr.Next.InPosition)
	assert.False(t, tr.Signal, "强平的K线不发新信号")

	// 隔夜仓不强平
	m = newTestMachine(t, func(p *Params) { p.Lifecycle = CarryForward })
	tr, err = m.Step(shortState(104, 108, 100), mkBar(at(15, 20), 103, 104, 102, 103.5, 103))
	require.NoError(t, err)
	assert.Empty(t, tr.Orders)
	assert.True(t, tr.Next.InPosition)
}

func TestReversalExitsOnNextBar(t *testing.T) {
	m := newTestMachine(t, nil)

	tr, err := m.Step(shortState(104, 108, 100), mkBar(at(11, 0), 103.5, 104, 102, 102.5, 103))
	require.NoError(t, err)
	assert.Empty(t, tr.Orders)
	assert.True(t, tr.Next.ReverseFlag)
	assert.True(t, tr.Next.InPosition)

	tr, err = m.Step(tr.Next, mkBar(at(11, 1), 102, 102.5, 101.5, 104, 103))
	require.NoError(t, err)
	require.Len(t, tr.Orders, 1)
	assert.Equal(t, ReasonTrendReversed, tr.Orders[0].Reason)
	assert.Equal(t, 102.0, tr.Orders[0].Price)
	assert.Equal(t, 20.0, tr.Orders[0].PnL())
	assert.False(t, tr.Next.ReverseFlag)
	assert.False(t, tr.Next.InPosition)

	// 平仓后同一根K线收盘仍在上轨之上，可以再次发出信号
	assert.True(t, tr.Signal)
	assert.True(t, tr.Next.SignalPending)
}

func TestEntryAndStopLossOnSameBar(t *testing.T) {
	m := newTestMachine(t, nil)
	tr, err := m.Step(NewState(100000), mkBar(at(10, 0), 104, 105.5, 103.8, 105, 100))
	require.NoError(t, err)

	tr, err = m.Step(tr.Next, mkBar(at(10, 1), 106, 107, 105.9, 106.5, 100))
	require.NoError(t, err)
	require.Len(t, tr.Orders, 2)
	assert.Equal(t, ReasonEntry, tr.Orders[0].Reason)
	assert.Equal(t, ReasonStopLossHit, tr.Orders[1].Reason)
	assert.Equal(t, 106.20, tr.Orders[1].Price)
	assert.Equal(t, -2.0, tr.Orders[1].PnL())
	assert.Equal(t, 99998.0, tr.Next.Capital)
}

func TestSignalCutoffRespected(t *testing.T) {
	m := newTestMachine(t, nil)

	tr, err := m.Step(NewState(100000), mkBar(at(15, 14), 104, 105.5, 103.8, 105, 100))
	require.NoError(t, err)
	assert.False(t, tr.Signal, "15:14 已过日内信号截止时刻")

	tr, err = m.Step(NewState(100000), mkBar(at(15, 13), 104, 105.5, 103.8, 105, 100))
	require.NoError(t, err)
	assert.True(t, tr.Signal)
}

func TestEntryCutoffForCarryForward(t *testing.T) {
	m := newTestMachine(t, func(p *Params) { p.Lifecycle = CarryForward })

	tr, err := m.Step(NewState(100000), mkBar(at(15, 20), 104, 105.5, 103.8, 105, 100))
	require.NoError(t, err)
	require.True(t, tr.Signal)

	tr, err = m.Step(tr.Next, mkBar(at(15, 21), 106, 106.1, 98.9, 99, 100))
	require.NoError(t, err)
	assert.Empty(t, tr.Orders, "15:15 之后不开仓")
	assert.True(t, tr.Cancelled)
}

func TestInvalidBarLeavesStateUnchanged(t *testing.T) {
	m := newTestMachine(t, nil)
	states := []State{
		NewState(100000),
		shortState(104, 108, 100),
	}
	pending := NewState(100000)
	pending.SignalPending = true
	pending.PendingEntryTime = ptr(at(11, 0))
	states = append(states, pending)

	reversing := shortState(104, 108, 100)
	reversing.ReverseFlag = true
	states = append(states, reversing)

	broken := []Bar{
		mkBar(at(11, 0), math.NaN(), 109, 99, 105, 100),
		mkBar(at(11, 0), 104, 109, 99, 105, math.NaN()),
		{Time: at(11, 0), Open: 104, High: 109, Low: 99, Close: 105, UpperBand: 100, MiddleBand: math.NaN(), LowerBand: 96},
		{Open: 104, High: 109, Low: 99, Close: 105, UpperBand: 100, MiddleBand: 98, LowerBand: 96},
	}

	for _, s := range states {
		for _, b := range broken {
			tr, err := m.Step(s, b)
			require.NoError(t, err)
			assert.True(t, tr.Skipped)
			assert.Empty(t, tr.Orders)
			assert.Equal(t, s, tr.Next)
		}
	}
}

func TestStepDoesNotMutateInput(t *testing.T) {
	m := newTestMachine(t, nil)
	s := shortState(104, 108, 100)
	before := s

	_, err := m.Step(s, mkBar(at(11, 0), 104, 109, 99, 105, 100))
	require.NoError(t, err)
	assert.Equal(t, before, s)
	assert.Equal(t, 108.0, *s.StopLossPrice)
}

func TestInvariantViolation(t *testing.T) {
	m := newTestMachine(t, nil)

	// 止损存在而止盈缺失
	s := shortState(104, 108, 100)
	s.TargetPrice = nil

	_, err := m.Step(s, mkBar(at(11, 0), 104, 105, 103, 104, 100))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariantViolation))

	var iv *InvariantViolation
	require.True(t, errors.As(err, &iv))
	assert.Equal(t, "HDFCBANK", iv.Symbol)
	assert.True(t, at(11, 0).Equal(iv.At))

	// 待确认信号时已有止损/止盈
	s = NewState(100000)
	s.SignalPending = true
	s.PendingEntryTime = ptr(at(11, 0))
	s.StopLossPrice = ptr(108.0)
	s.TargetPrice = ptr(100.0)
	_, err = m.Step(s, mkBar(at(11, 0), 104, 105, 103, 104, 100))
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestNewMachineRejectsInvalidParams(t *testing.T) {
	p := testParams()
	p.Quantity = 0
	_, err := NewMachine(p)
	assert.ErrorIs(t, err, ErrConfiguration)
}
