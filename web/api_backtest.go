package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bandshort/backtest"
	"bandshort/config"
	"bandshort/metrics"
	"bandshort/runner"
)

// BacktestRequest 回测请求，未给出标的时使用配置中的标的
type BacktestRequest struct {
	Symbols   []string               `json:"symbols"`
	Overrides *config.SymbolOverride `json:"overrides"` // 作用于本次所有标的
}

// SymbolResult 单个标的的结果摘要
type SymbolResult struct {
	Symbol        string  `json:"symbol"`
	Success       bool    `json:"success"`
	Error         string  `json:"error,omitempty"`
	FinalCapital  float64 `json:"final_capital,omitempty"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalTrades   int     `json:"total_trades"`
	WinRate       float64 `json:"win_rate"`
	BarsProcessed int     `json:"bars_processed"`
	DurationMS    int64   `json:"duration_ms"`
}

// BacktestResponse 回测响应
type BacktestResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	RunID   string         `json:"run_id,omitempty"`
	Summary runner.Summary `json:"summary"`
	Results []SymbolResult `json:"results,omitempty"`
}

// buildParams 以当前配置为默认值生成各标的参数
func buildParams(cfg *config.Config, req BacktestRequest) ([]backtest.Params, error) {
	symbols := make([]string, 0, len(req.Symbols))
	for _, s := range req.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		symbols = cfg.Backtest.Symbols
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: 未指定标的", backtest.ErrConfiguration)
	}

	effective := *cfg
	if req.Overrides != nil {
		overrides := make(map[string]config.SymbolOverride, len(symbols))
		for k, v := range cfg.Backtest.Overrides {
			overrides[k] = v
		}
		for _, s := range symbols {
			overrides[s] = mergeOverride(overrides[s], *req.Overrides)
		}
		effective.Backtest.Overrides = overrides
	}
	return effective.AllParams(symbols)
}

// mergeOverride 请求中填写的字段覆盖配置
func mergeOverride(base, req config.SymbolOverride) config.SymbolOverride {
	if req.Quantity != nil {
		base.Quantity = req.Quantity
	}
	if req.Capital != nil {
		base.Capital = req.Capital
	}
	if req.StopLossPercent != nil {
		base.StopLossPercent = req.StopLossPercent
	}
	if req.TargetPercent != nil {
		base.TargetPercent = req.TargetPercent
	}
	if req.PreferStopLoss != nil {
		base.PreferStopLoss = req.PreferStopLoss
	}
	if req.OrderLifecycle != "" {
		base.OrderLifecycle = req.OrderLifecycle
	}
	return base
}

func summarize(report *runner.Report) []SymbolResult {
	out := make([]SymbolResult, 0, len(report.Results))
	for _, sym := range report.Symbols() {
		res := report.Results[sym]
		sr := SymbolResult{
			Symbol:     sym,
			Success:    res.OK(),
			Error:      res.Error,
			DurationMS: res.Duration.Milliseconds(),
		}
		if l := res.Ledger; l != nil {
			sr.FinalCapital = l.FinalCapital
			sr.TotalPnL = l.Metrics.TotalPnL
			sr.TotalTrades = l.Metrics.TotalTrades
			sr.WinRate = l.Metrics.WinRate
			sr.BarsProcessed = l.BarsProcessed
		}
		out = append(out, sr)
	}
	return out
}

// runBacktest 同步运行回测
func (ws *WebServer) runBacktest(c *gin.Context) {
	var req BacktestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, BacktestResponse{
				Success: false,
				Message: fmt.Sprintf("请求参数错误: %v", err),
			})
			return
		}
	}

	params, err := buildParams(ws.reloader.Current(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, backtest.ErrConfiguration) {
			status = http.StatusBadRequest
		}
		c.JSON(status, BacktestResponse{Success: false, Message: err.Error()})
		return
	}

	report := ws.run(c.Request.Context(), params)
	ws.store.Put(report)

	c.JSON(http.StatusOK, BacktestResponse{
		Success: !report.AllFailed(),
		Message: "回测完成",
		RunID:   report.RunID,
		Summary: report.Summary(),
		Results: summarize(report),
	})
}

// listRuns 最近的回测
func (ws *WebServer) listRuns(c *gin.Context) {
	reports := ws.store.List()
	summaries := make([]runner.Summary, 0, len(reports))
	for _, r := range reports {
		summaries = append(summaries, r.Summary())
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"runs":    summaries,
	})
}

// getRun 查询一次回测的摘要
func (ws *WebServer) getRun(c *gin.Context) {
	report, ok := ws.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "回测不存在"})
		return
	}
	c.JSON(http.StatusOK, BacktestResponse{
		Success: true,
		RunID:   report.RunID,
		Summary: report.Summary(),
		Results: summarize(report),
	})
}

// getLedger 查询单个标的的账本
func (ws *WebServer) getLedger(c *gin.Context) {
	report, ok := ws.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "回测不存在"})
		return
	}
	res, ok := report.Results[c.Param("symbol")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "标的不存在"})
		return
	}
	if !res.OK() {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": res.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"ledger":  res.Ledger,
		"equity":  backtest.EquityCurve(res.Ledger),
	})
}

// listCache 列出所有缓存
func (ws *WebServer) listCache(c *gin.Context) {
	if ws.cache == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "enabled": false})
		return
	}

	caches, err := ws.cache.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": fmt.Sprintf("列出缓存失败: %v", err),
		})
		return
	}
	stats, err := ws.cache.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": fmt.Sprintf("获取缓存统计失败: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"enabled": true,
		"caches":  caches,
		"stats":   stats,
	})
}

// deleteCache 删除指定缓存
func (ws *WebServer) deleteCache(c *gin.Context) {
	if ws.cache == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "缓存未启用"})
		return
	}
	key := c.Param("key")
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "无效的缓存键"})
		return
	}
	if err := ws.cache.Delete(key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": fmt.Sprintf("删除缓存失败: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "缓存已删除"})
}

// getSystemStats 进程资源
func getSystemStats(c *gin.Context) {
	stats, err := metrics.CollectProcessStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": fmt.Sprintf("采集系统指标失败: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}
