package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		want  float64
	}{
		{"向下取整", 615.72, 615.70},
		{"向上取整", 615.78, 615.80},
		{"已是整数 tick", 106.20, 106.20},
		{"中点银行家舍入", 100.025, 100.00},
		{"中点取偶数 tick", 288.075, 288.10},
		{"中点取偶数 tick 向下", 288.025, 288.00},
		{"四位小数", 106.212, 106.20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RoundToTick(tt.price, DefaultTickSize))
		})
	}
}

func TestTargetAndStopLossPrice(t *testing.T) {
	// 616.95 下调 0.2% = 615.7161 → 615.72 → 615.70
	assert.Equal(t, 615.70, TargetPrice(616.95, 0.2, DefaultTickSize))

	assert.Equal(t, 106.20, StopLossPrice(106, 0.2, DefaultTickSize))
	assert.Equal(t, 105.80, TargetPrice(106, 0.2, DefaultTickSize))

	// 止损在开仓价之上，止盈在之下
	for _, p := range []float64{12.35, 99.9, 1500.45, 2790.1} {
		assert.GreaterOrEqual(t, StopLossPrice(p, 0.5, DefaultTickSize), p)
		assert.LessOrEqual(t, TargetPrice(p, 0.5, DefaultTickSize), p)
	}
}

func TestRealizedPnL(t *testing.T) {
	assert.Equal(t, -40.0, RealizedPnL(104, 108, 10))
	assert.Equal(t, 40.0, RealizedPnL(104, 100, 10))
	assert.Equal(t, 2.0, RealizedPnL(106, 105.8, 10))
	assert.Equal(t, 1060.0, Notional(106, 10))
}

func TestAffordable(t *testing.T) {
	assert.True(t, affordable(1060, 106, 10))
	assert.False(t, affordable(1059.99, 106, 10))
}
