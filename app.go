package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"

	"bandshort/backtest"
	"bandshort/config"
	"bandshort/database"
	"bandshort/feed"
	"bandshort/lock"
	"bandshort/logger"
	"bandshort/metrics"
	"bandshort/runner"
	"bandshort/utils"
)

// app 各命令共享的运行环境
type app struct {
	cfg   *config.Config
	db    database.Database
	lock  lock.DistributedLock
	cache *feed.Cache
	files *runner.FileSource
}

// loadApp 加载配置并初始化日志、时区
func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 加载时区 %s 失败: %v，使用 %s", cfg.System.Timezone, err, utils.GlobalLocation)
	}
	logger.SetLocation(utils.GlobalLocation)
	logger.Info("✅ 配置已加载: %s (数据源:%s 并发:%d)", path, cfg.Data.Source, cfg.Runner.Workers)

	return &app{cfg: cfg}, nil
}

// openDatabase 按需打开数据库
func (a *app) openDatabase() (database.Database, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.NewDatabase(a.cfg.DatabaseOptions())
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	a.db = db
	return db, nil
}

// newRunner 按配置组装数据源、认领锁和结果写入
func (a *app) newRunner(observer *metrics.Observer) (*runner.Runner, error) {
	cfg := a.cfg

	// 缓存和锁在进程内只创建一次，对应配置需要重启才生效
	if cfg.Data.CacheEnabled && a.cache == nil {
		a.cache = feed.NewCache(cfg.Data.CacheDir)
	}

	var source runner.Source
	switch cfg.Data.Source {
	case "database":
		db, err := a.openDatabase()
		if err != nil {
			return nil, err
		}
		source = runner.NewDatabaseSource(db, cfg.Data.Resample, cfg.Data.Bands)
	default:
		a.files = runner.NewFileSource(cfg.Data.CSVPath, cfg.Data.Resample, cfg.Data.Bands, a.cache)
		source = a.files
	}

	if a.lock == nil {
		lk, err := lock.NewDistributedLock(cfg.LockOptions())
		if err != nil {
			return nil, fmt.Errorf("初始化分布式锁失败: %w", err)
		}
		a.lock = lk
	}

	opts := []runner.Option{
		runner.WithWorkers(cfg.Runner.Workers),
		runner.WithLock(a.lock, cfg.DistributedLock.TTL),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, runner.WithMetrics(metrics.GetPrometheusMetrics()))
		if observer != nil {
			opts = append(opts, runner.WithObserver(observer))
		}
	}
	if cfg.Runner.PersistLedger {
		db, err := a.openDatabase()
		if err != nil {
			return nil, err
		}
		opts = append(opts, runner.WithSink(runner.NewDatabaseSink(db)))
	}
	return runner.New(source, opts...), nil
}

// liveRunner 服务模式下的回测入口，数据源或并发配置热更新后重建
type liveRunner struct {
	a        *app
	observer *metrics.Observer
	current  atomic.Pointer[runner.Runner]
}

func (a *app) newLiveRunner(observer *metrics.Observer) (*liveRunner, error) {
	r, err := a.newRunner(observer)
	if err != nil {
		return nil, err
	}
	lr := &liveRunner{a: a, observer: observer}
	lr.current.Store(r)
	return lr, nil
}

// Run 使用提交时生效的回测器，进行中的回测不受重建影响
func (lr *liveRunner) Run(ctx context.Context, params []backtest.Params) *runner.Report {
	return lr.current.Load().Run(ctx, params)
}

// apply 注册为 HotReloader 回调，重建失败时拒绝本次更新
func (lr *liveRunner) apply(_, next *config.Config, diff *config.ConfigDiff) error {
	if diff.Has(config.ScopeLogging) {
		logger.SetLevel(logger.ParseLogLevel(next.System.LogLevel))
	}

	prev := lr.a.cfg
	lr.a.cfg = next
	if !diff.Has(config.ScopeReplay) {
		return nil
	}

	r, err := lr.a.newRunner(lr.observer)
	if err != nil {
		lr.a.cfg = prev
		return fmt.Errorf("重建回测器失败: %w", err)
	}
	lr.current.Store(r)
	logger.Info("🔄 回测器已按新配置重建 (数据源:%s 聚合:%v 并发:%d)", next.Data.Source, next.Data.Resample, next.Runner.Workers)
	return nil
}

// symbols 命令行优先，其次配置，最后取数据源中的全部标的
func (a *app) symbols(ctx context.Context, fromFlag []string) ([]string, error) {
	if len(fromFlag) > 0 {
		return fromFlag, nil
	}
	if len(a.cfg.Backtest.Symbols) > 0 {
		return a.cfg.Backtest.Symbols, nil
	}
	if a.files != nil {
		return a.files.Symbols()
	}
	db, err := a.openDatabase()
	if err != nil {
		return nil, err
	}
	return db.ListInstruments(ctx)
}

func (a *app) close() {
	if a.lock != nil {
		if err := a.lock.Close(); err != nil {
			logger.Warn("⚠️ 关闭分布式锁失败: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warn("⚠️ 关闭数据库失败: %v", err)
		}
	}
}
