package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// GenerateReport 生成 Markdown 回测报告，返回文件路径
func GenerateReport(ledger *Ledger, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	filename := fmt.Sprintf("%s_%s_report.md", ledger.Symbol, ledger.StartTime.Format("20060102"))
	reportPath := filepath.Join(dir, filename)

	content, err := RenderReport(ledger)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(reportPath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("写入报告文件失败: %w", err)
	}
	return reportPath, nil
}

// ReportData 报告数据
type ReportData struct {
	Symbol         string
	GeneratedAt    string
	StartDate      string
	EndDate        string
	Lifecycle      string
	BarInterval    string
	StopLoss       string
	Target         string
	InitialCapital string
	FinalCapital   string

	TotalPnL    string
	TotalReturn string
	MaxDrawdown string

	TotalTrades          string
	OpenTrades           string
	WinRate              string
	ProfitFactor         string
	AvgWin               string
	AvgLoss              string
	LargestWin           string
	LargestLoss          string
	MaxConsecutiveWins   string
	MaxConsecutiveLosses string

	Signals   string
	Cancelled string
	Skipped   string

	VaR95  string
	VaR99  string
	CVaR95 string
	CVaR99 string
	Worst  string

	ExitReasons []ReasonRow
	TopTrades   []TradeRow

	Conclusion string
}

// ReasonRow 平仓原因统计行
type ReasonRow struct {
	Reason string
	Count  int
}

// TradeRow 交易行
type TradeRow struct {
	Time   string
	Reason string
	Price  string
	PnL    string
	Amount string
}

// prepareReportData 准备报告数据
func prepareReportData(l *Ledger) ReportData {
	m := l.Metrics
	p := l.Params

	// 交易明细（前20笔平仓）
	topTrades := make([]TradeRow, 0)
	for _, o := range l.Orders {
		if !o.IsExit() {
			continue
		}
		if len(topTrades) >= 20 {
			break
		}
		topTrades = append(topTrades, TradeRow{
			Time:   o.Time.Format("2006-01-02 15:04"),
			Reason: string(o.Reason),
			Price:  fmt.Sprintf("%.2f", o.Price),
			PnL:    fmt.Sprintf("%.2f", o.PnL()),
			Amount: fmt.Sprintf("%.2f", o.BalanceAfter),
		})
	}

	reasons := make([]ReasonRow, 0, len(m.ExitReasons))
	for r, n := range m.ExitReasons {
		reasons = append(reasons, ReasonRow{Reason: string(r), Count: n})
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i].Reason < reasons[j].Reason })

	return ReportData{
		Symbol:         l.Symbol,
		GeneratedAt:    time.Now().Format("2006-01-02 15:04:05"),
		StartDate:      l.StartTime.Format("2006-01-02 15:04"),
		EndDate:        l.EndTime.Format("2006-01-02 15:04"),
		Lifecycle:      string(p.Lifecycle),
		BarInterval:    p.BarInterval.String(),
		StopLoss:       fmt.Sprintf("%.2f%%", p.StopLossPercent),
		Target:         fmt.Sprintf("%.2f%%", p.TargetPercent),
		InitialCapital: fmt.Sprintf("%.2f", l.InitialCapital),
		FinalCapital:   fmt.Sprintf("%.2f", l.FinalCapital),

		TotalPnL:    fmt.Sprintf("%.2f", m.TotalPnL),
		TotalReturn: fmt.Sprintf("%.2f%%", m.TotalReturn),
		MaxDrawdown: fmt.Sprintf("%.2f%%", m.MaxDrawdown),

		TotalTrades:          strconv.Itoa(m.TotalTrades),
		OpenTrades:           strconv.Itoa(m.OpenTrades),
		WinRate:              fmt.Sprintf("%.2f%%", m.WinRate),
		ProfitFactor:         fmt.Sprintf("%.2f", m.ProfitFactor),
		AvgWin:               fmt.Sprintf("%.2f", m.AvgWin),
		AvgLoss:              fmt.Sprintf("%.2f", m.AvgLoss),
		LargestWin:           fmt.Sprintf("%.2f", m.LargestWin),
		LargestLoss:          fmt.Sprintf("%.2f", m.LargestLoss),
		MaxConsecutiveWins:   strconv.Itoa(m.MaxConsecutiveWins),
		MaxConsecutiveLosses: strconv.Itoa(m.MaxConsecutiveLosses),

		Signals:   strconv.Itoa(l.Signals),
		Cancelled: strconv.Itoa(l.Cancelled),
		Skipped:   strconv.Itoa(l.BarsSkipped),

		VaR95:  fmt.Sprintf("%.4f%%", l.RiskMetrics.VaR95),
		VaR99:  fmt.Sprintf("%.4f%%", l.RiskMetrics.VaR99),
		CVaR95: fmt.Sprintf("%.4f%%", l.RiskMetrics.CVaR95),
		CVaR99: fmt.Sprintf("%.4f%%", l.RiskMetrics.CVaR99),
		Worst:  fmt.Sprintf("%.2f", l.RiskMetrics.WorstTradeLoss),

		ExitReasons: reasons,
		TopTrades:   topTrades,
		Conclusion:  generateConclusion(m),
	}
}

// generateConclusion 生成结论
func generateConclusion(m Metrics) string {
	var conclusions []string

	if m.TotalTrades == 0 {
		return "⚠️ 回测期间没有完成任何交易"
	}

	if m.TotalReturn > 5 {
		conclusions = append(conclusions, "✅ 策略表现良好，总收益率超过 5%")
	} else if m.TotalReturn > 0 {
		conclusions = append(conclusions, "⚠️ 策略盈利，但收益率较低")
	} else {
		conclusions = append(conclusions, "❌ 策略亏损，需要调整止损/止盈参数")
	}

	if m.WinRate > 50 {
		conclusions = append(conclusions, "✅ 胜率良好，超过 50%")
	} else {
		conclusions = append(conclusions, "⚠️ 胜率较低，需要优化策略")
	}

	if m.ProfitFactor > 1.5 {
		conclusions = append(conclusions, "✅ 利润因子良好")
	} else if m.ProfitFactor > 1 {
		conclusions = append(conclusions, "⚠️ 利润因子一般")
	} else {
		conclusions = append(conclusions, "❌ 利润因子 < 1，平均亏损大于平均盈利")
	}

	return strings.Join(conclusions, "\n\n")
}

var reportTemplate = template.Must(template.New("report").Parse(`# {{.Symbol}} 布林带做空回测报告

生成时间: {{.GeneratedAt}}

## 执行摘要

- **标的**: {{.Symbol}}
- **回测期间**: {{.StartDate}} 至 {{.EndDate}}
- **订单类型**: {{.Lifecycle}} / {{.BarInterval}}
- **止损 / 止盈**: {{.StopLoss}} / {{.Target}}
- **初始资金**: {{.InitialCapital}}
- **最终资金**: {{.FinalCapital}}
- **已实现盈亏**: {{.TotalPnL}}
- **总收益率**: {{.TotalReturn}}
- **最大回撤**: {{.MaxDrawdown}}

## 交易指标

| 指标 | 数值 |
|------|------|
| 已平仓交易 | {{.TotalTrades}} |
| 未平仓 | {{.OpenTrades}} |
| 胜率 | {{.WinRate}} |
| 利润因子 | {{.ProfitFactor}} |
| 平均盈利 | {{.AvgWin}} |
| 平均亏损 | {{.AvgLoss}} |
| 最大单笔盈利 | {{.LargestWin}} |
| 最大单笔亏损 | {{.LargestLoss}} |
| 最大连续盈利 | {{.MaxConsecutiveWins}} 笔 |
| 最大连续亏损 | {{.MaxConsecutiveLosses}} 笔 |

## 信号统计

| 指标 | 数值 |
|------|------|
| 信号数 | {{.Signals}} |
| 取消的信号 | {{.Cancelled}} |
| 跳过的K线 | {{.Skipped}} |

## 逐笔风险

| 指标 | 数值 | 说明 |
|------|------|------|
| VaR (95%) | {{.VaR95}} | 占开仓金额，95% 置信度下单笔最大损失 |
| VaR (99%) | {{.VaR99}} | 占开仓金额，99% 置信度下单笔最大损失 |
| CVaR (95%) | {{.CVaR95}} | 最差 5% 交易的平均损失 |
| CVaR (99%) | {{.CVaR99}} | 最差 1% 交易的平均损失 |
| 单笔最大亏损 | {{.Worst}} | 金额 |

## 平仓原因

| 原因 | 次数 |
|------|------|
{{range .ExitReasons}}| {{.Reason}} | {{.Count}} |
{{end}}
## 交易明细（前20笔）

| 时间 | 原因 | 价格 | 盈亏 | 余额 |
|------|------|------|------|------|
{{range .TopTrades}}| {{.Time}} | {{.Reason}} | {{.Price}} | {{.PnL}} | {{.Amount}} |
{{end}}
## 结论

{{.Conclusion}}
`))

// RenderReport 渲染报告内容
func RenderReport(l *Ledger) (string, error) {
	var buf strings.Builder
	if err := reportTemplate.Execute(&buf, prepareReportData(l)); err != nil {
		return "", fmt.Errorf("渲染报告模板失败: %w", err)
	}
	return buf.String(), nil
}

// LedgerCSVHeader 订单日志列
var LedgerCSVHeader = []string{
	"Ticker", "OrderDateTime", "InstrumentPrice", "Quantity", "OrderPrice",
	"TPPrice", "SLPrice", "OrderSide", "Status", "Reason", "Balance", "PnL",
}

// WriteLedgerCSV 按成交顺序写出订单日志
func WriteLedgerCSV(w io.Writer, l *Ledger) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LedgerCSVHeader); err != nil {
		return err
	}
	for _, o := range l.Orders {
		pnl := ""
		if o.RealizedPnL != nil {
			pnl = strconv.FormatFloat(*o.RealizedPnL, 'f', 2, 64)
		}
		row := []string{
			o.Instrument,
			o.Time.Format("2006-01-02 15:04:05"),
			strconv.FormatFloat(o.Price, 'f', -1, 64),
			strconv.Itoa(o.Quantity),
			strconv.FormatFloat(o.Notional, 'f', -1, 64),
			strconv.FormatFloat(o.TargetPrice, 'f', -1, 64),
			strconv.FormatFloat(o.StopLossPrice, 'f', -1, 64),
			string(o.Side),
			string(o.Status),
			string(o.Reason),
			strconv.FormatFloat(o.BalanceAfter, 'f', 2, 64),
			pnl,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveLedgerCSV 保存订单日志到 CSV
func SaveLedgerCSV(l *Ledger, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}
	csvPath := filepath.Join(dir, fmt.Sprintf("%s_%s_orders.csv", l.Symbol, l.StartTime.Format("20060102")))

	file, err := os.Create(csvPath)
	if err != nil {
		return "", fmt.Errorf("创建 CSV 文件失败: %w", err)
	}
	defer file.Close()

	if err := WriteLedgerCSV(file, l); err != nil {
		return "", fmt.Errorf("写入 CSV 文件失败: %w", err)
	}
	return csvPath, nil
}

// SaveEquityCurveCSV 保存资金曲线到 CSV
func SaveEquityCurveCSV(l *Ledger, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}
	csvPath := filepath.Join(dir, fmt.Sprintf("%s_%s_equity.csv", l.Symbol, l.StartTime.Format("20060102")))

	file, err := os.Create(csvPath)
	if err != nil {
		return "", fmt.Errorf("创建 CSV 文件失败: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "time,balance")
	for _, point := range EquityCurve(l) {
		fmt.Fprintf(file, "%s,%.2f\n", point.Time.Format("2006-01-02 15:04:05"), point.Balance)
	}
	return csvPath, nil
}
