package database

import (
	"context"
	"errors"
	"time"
)

// ImportMode 导入时目标表已有数据的处理方式
type ImportMode string

const (
	ImportReplace ImportMode = "replace" // 清空后写入
	ImportAppend  ImportMode = "append"  // 追加
	ImportFail    ImportMode = "fail"    // 已有数据则报错
)

// ErrTableNotEmpty fail 模式下目标表已有数据
var ErrTableNotEmpty = errors.New("目标表已有数据")

// Database 数据库接口
type Database interface {
	// 分钟K线
	ImportCandles(ctx context.Context, candles []*Candle, mode ImportMode) (int, error)
	LoadCandles(ctx context.Context, filter *CandleFilter) ([]*Candle, error)
	ListInstruments(ctx context.Context) ([]string, error)

	// 回测账本
	SaveLedger(ctx context.Context, entries []*LedgerEntry) error
	GetLedger(ctx context.Context, filter *LedgerFilter) ([]*LedgerEntry, error)

	// 回测汇总
	SaveRunSummary(ctx context.Context, summary *RunSummary) error
	GetRunSummaries(ctx context.Context, filter *RunFilter) ([]*RunSummary, error)

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// 数据模型

// Candle 分钟K线，表结构沿用历史的 minute_candle
type Candle struct {
	ID                   int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedOn            time.Time `gorm:"column:created_on;index:idx_instrument_time" json:"created_on"`
	InstrumentIdentifier string    `gorm:"column:instrument_identifier;index:idx_instrument_time;size:50" json:"instrument_identifier"`
	OpenValue            float64   `gorm:"column:open_value" json:"open_value"`
	High                 float64   `gorm:"column:high" json:"high"`
	Low                  float64   `gorm:"column:low" json:"low"`
	CloseValue           float64   `gorm:"column:close_value" json:"close_value"`
}

// TableName 固定表名
func (Candle) TableName() string {
	return "minute_candle"
}

// LedgerEntry 持久化的订单记录
type LedgerEntry struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID           string    `gorm:"index:idx_run_ticker;size:64" json:"run_id"`
	Ticker          string    `gorm:"index:idx_run_ticker;size:50" json:"ticker"`
	Seq             int       `json:"seq"` // 同一标的内的成交顺序
	OrderDateTime   time.Time `gorm:"index" json:"order_date_time"`
	InstrumentPrice float64   `json:"instrument_price"`
	Quantity        int       `json:"quantity"`
	OrderPrice      float64   `json:"order_price"`
	TPPrice         float64   `json:"tp_price"`
	SLPrice         float64   `json:"sl_price"`
	OrderSide       string    `gorm:"size:10" json:"order_side"`
	Status          string    `gorm:"size:20" json:"status"`
	Reason          string    `gorm:"size:30" json:"reason"`
	Balance         float64   `json:"balance"`
	PnL             *float64  `json:"pnl"`
	CreatedAt       time.Time `json:"created_at"`
}

// RunSummary 单个标的的回测汇总
type RunSummary struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID          string    `gorm:"index;size:64" json:"run_id"`
	Symbol         string    `gorm:"index;size:50" json:"symbol"`
	InitialCapital float64   `json:"initial_capital"`
	FinalCapital   float64   `json:"final_capital"`
	TotalPnL       float64   `json:"total_pnl"`
	WinRate        float64   `json:"win_rate"`
	TradeCount     int       `json:"trade_count"`
	Error          string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// 过滤器

// CandleFilter K线过滤器
type CandleFilter struct {
	Symbol    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

// LedgerFilter 账本过滤器
type LedgerFilter struct {
	RunID  string
	Ticker string
	Limit  int
	Offset int
}

// RunFilter 汇总过滤器
type RunFilter struct {
	RunID  string
	Symbol string
	Limit  int
	Offset int
}
