package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"bandshort/backtest"
	"bandshort/config"
	"bandshort/feed"
	"bandshort/logger"
	"bandshort/runner"
)

// RunFunc 执行一次多标的回测
type RunFunc func(ctx context.Context, params []backtest.Params) *runner.Report

// WebServer Web服务器
type WebServer struct {
	server   *http.Server
	engine   *gin.Engine
	reloader *config.HotReloader
	run      RunFunc
	cache    *feed.Cache
	store    *ResultStore
	limiter  atomic.Pointer[rate.Limiter]
}

// NewWebServer 创建Web服务器，cache 可为 nil
func NewWebServer(reloader *config.HotReloader, run RunFunc, cache *feed.Cache) *WebServer {
	cfg := reloader.Current()

	if strings.EqualFold(cfg.System.LogLevel, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ws := &WebServer{
		reloader: reloader,
		run:      run,
		cache:    cache,
		store:    NewResultStore(defaultStoreSize),
	}
	ws.limiter.Store(rate.NewLimiter(rate.Limit(cfg.Web.RateLimit), cfg.Web.Burst))

	reloader.RegisterCallback(ws.applyLimits)

	r := gin.New()
	r.Use(gin.Recovery(), GinLoggerMiddleware(strings.EqualFold(cfg.System.LogLevel, "debug")))
	ws.setupRoutes(r)
	ws.engine = r

	ws.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // 同步回测可能较慢
		IdleTimeout:  60 * time.Second,
	}
	return ws
}

// Handler 返回路由，便于测试
func (ws *WebServer) Handler() http.Handler {
	return ws.engine
}

// setupRoutes 设置路由
func (ws *WebServer) setupRoutes(r *gin.Engine) {
	// Prometheus metrics 端点
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		backtestAPI := api.Group("/backtest")
		{
			backtestAPI.POST("", ws.rateLimit(), ws.runBacktest)
			backtestAPI.GET("", ws.listRuns)
			backtestAPI.GET("/:id", ws.getRun)
			backtestAPI.GET("/:id/:symbol", ws.getLedger)
		}
		api.GET("/cache", ws.listCache)
		api.DELETE("/cache/:key", ws.deleteCache)
		api.GET("/system", getSystemStats)
	}
}

// rateLimit 令牌桶限流
func (ws *WebServer) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ws.limiter.Load().Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}

// applyLimits 热更新提交限流，新的令牌桶从满桶开始
func (ws *WebServer) applyLimits(_, next *config.Config, diff *config.ConfigDiff) error {
	if !diff.Has(config.ScopeLimiter) {
		return nil
	}
	ws.limiter.Store(rate.NewLimiter(rate.Limit(next.Web.RateLimit), next.Web.Burst))
	logger.Info("🔄 提交限流已调整: %.3f/s, burst %d", next.Web.RateLimit, next.Web.Burst)
	return nil
}

// Start 启动Web服务器，ctx 取消时关闭
func (ws *WebServer) Start(ctx context.Context) error {
	if ws == nil {
		return nil
	}

	go func() {
		logger.Info("🌐 Web服务器启动在 http://%s", ws.server.Addr)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ Web服务器启动失败: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		ws.Stop()
	}()

	return nil
}

// Stop 停止Web服务器
func (ws *WebServer) Stop() {
	if ws == nil || ws.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(ctx); err != nil {
		logger.Error("❌ Web服务器关闭失败: %v", err)
		return
	}
	logger.Info("✅ Web服务器已关闭")
}
