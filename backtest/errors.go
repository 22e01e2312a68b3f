package backtest

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration 参数非法，回测开始前返回
	ErrConfiguration = errors.New("配置错误")
	// ErrEmptyFeed 请求的标的/时间窗口内没有可用K线
	ErrEmptyFeed = errors.New("行情数据为空")
	// ErrInvariantViolation 状态机内部约束被破坏，中止该标的回测
	ErrInvariantViolation = errors.New("状态约束被破坏")
)

// InvariantViolation 带出错时间点的约束错误
type InvariantViolation struct {
	Symbol string
	At     time.Time
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("%s [%s @ %s]: %s", ErrInvariantViolation, e.Symbol, e.At.Format("2006-01-02 15:04:05"), e.Detail)
}

// Is 使 errors.Is(err, ErrInvariantViolation) 成立
func (e *InvariantViolation) Is(target error) bool {
	return target == ErrInvariantViolation
}
