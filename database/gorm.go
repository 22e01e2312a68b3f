package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDatabase GORM 数据库实现
type GormDatabase struct {
	db *gorm.DB
}

// DBConfig 数据库配置
type DBConfig struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

const importBatchSize = 500

// NewGormDatabase 创建 GORM 数据库实例
func NewGormDatabase(config *DBConfig) (*GormDatabase, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite":
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	// 日志级别
	logLevel := logger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	// 打开数据库
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 获取底层 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// 自动迁移
	if err := db.AutoMigrate(
		&Candle{},
		&LedgerEntry{},
		&RunSummary{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &GormDatabase{db: db}, nil
}

// ImportCandles 写入分钟K线，返回写入条数
func (g *GormDatabase) ImportCandles(ctx context.Context, candles []*Candle, mode ImportMode) (int, error) {
	if mode == "" {
		mode = ImportReplace
	}

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch mode {
		case ImportReplace:
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Candle{}).Error; err != nil {
				return fmt.Errorf("清空 minute_candle 失败: %w", err)
			}
		case ImportFail:
			var count int64
			if err := tx.Model(&Candle{}).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("%w: minute_candle 已有 %d 条", ErrTableNotEmpty, count)
			}
		case ImportAppend:
		default:
			return fmt.Errorf("unsupported import mode: %s", mode)
		}

		if len(candles) == 0 {
			return nil
		}
		return tx.CreateInBatches(candles, importBatchSize).Error
	})
	if err != nil {
		return 0, err
	}
	return len(candles), nil
}

// LoadCandles 按标的读取K线，时间升序
func (g *GormDatabase) LoadCandles(ctx context.Context, filter *CandleFilter) ([]*Candle, error) {
	query := g.db.WithContext(ctx).Model(&Candle{})

	if filter.Symbol != "" {
		query = query.Where("instrument_identifier = ?", filter.Symbol)
	}
	if filter.StartTime != nil {
		query = query.Where("created_on >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_on <= ?", filter.EndTime)
	}

	query = query.Order("created_on ASC").Order("id ASC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var candles []*Candle
	if err := query.Find(&candles).Error; err != nil {
		return nil, err
	}
	return candles, nil
}

// ListInstruments 列出已导入的标的
func (g *GormDatabase) ListInstruments(ctx context.Context) ([]string, error) {
	var symbols []string
	err := g.db.WithContext(ctx).Model(&Candle{}).
		Distinct("instrument_identifier").
		Order("instrument_identifier").
		Pluck("instrument_identifier", &symbols).Error
	return symbols, err
}

// SaveLedger 批量保存账本
func (g *GormDatabase) SaveLedger(ctx context.Context, entries []*LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).CreateInBatches(entries, 100).Error
}

// GetLedger 获取账本，按成交顺序
func (g *GormDatabase) GetLedger(ctx context.Context, filter *LedgerFilter) ([]*LedgerEntry, error) {
	query := g.db.WithContext(ctx).Model(&LedgerEntry{})

	if filter.RunID != "" {
		query = query.Where("run_id = ?", filter.RunID)
	}
	if filter.Ticker != "" {
		query = query.Where("ticker = ?", filter.Ticker)
	}

	query = query.Order("ticker ASC").Order("seq ASC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var entries []*LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveRunSummary 保存汇总
func (g *GormDatabase) SaveRunSummary(ctx context.Context, summary *RunSummary) error {
	return g.db.WithContext(ctx).Create(summary).Error
}

// GetRunSummaries 获取汇总
func (g *GormDatabase) GetRunSummaries(ctx context.Context, filter *RunFilter) ([]*RunSummary, error) {
	query := g.db.WithContext(ctx).Model(&RunSummary{})

	if filter.RunID != "" {
		query = query.Where("run_id = ?", filter.RunID)
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}

	query = query.Order("created_at DESC").Order("symbol ASC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var summaries []*RunSummary
	if err := query.Find(&summaries).Error; err != nil {
		return nil, err
	}
	return summaries, nil
}

// Ping 健康检查
func (g *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
