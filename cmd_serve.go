package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bandshort/config"
	"bandshort/logger"
	"bandshort/metrics"
	"bandshort/web"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API for submitting backtests",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lr, err := a.newLiveRunner(metrics.NewObserver())
	if err != nil {
		return err
	}
	reloader := config.NewHotReloader(a.cfg)
	reloader.RegisterCallback(lr.apply)

	path, _ := cmd.Flags().GetString("config")
	watcher, err := config.NewConfigWatcher(path, reloader)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	if a.cfg.Metrics.Enabled {
		collector := metrics.NewSystemMetricsCollector(a.cfg.Metrics.CollectInterval)
		collector.Start()
		defer collector.Stop()
	}

	server := web.NewWebServer(reloader, lr.Run, a.cache)
	if err := server.Start(ctx); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case diff := <-watcher.Restarts():
				logger.Warn("⚠️ 以下配置需要重启才能生效: %v", restartPaths(diff))
			case err := <-watcher.Errors():
				logger.Warn("⚠️ 配置监控错误: %v", err)
			}
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 收到退出信号，开始优雅关闭...")
	server.Stop()
	return nil
}

func restartPaths(diff *config.ConfigDiff) []string {
	var paths []string
	for _, c := range diff.Changes {
		if c.RequiresRestart {
			paths = append(paths, c.Path)
		}
	}
	return paths
}
