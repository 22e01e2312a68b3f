package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bandshort/backtest"
	"bandshort/logger"
	"bandshort/metrics"
	"bandshort/runner"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the backtest for the configured instruments",
		RunE:  runBacktest,
	}
	cmd.Flags().StringSlice("symbols", nil, "Comma-separated instruments, overrides backtest.symbols")
	cmd.Flags().String("out", "", "Output directory for ledgers and reports, overrides runner.output_dir")
	return cmd
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := a.newRunner(metrics.NewObserver())
	if err != nil {
		return err
	}

	flagSymbols, _ := cmd.Flags().GetStringSlice("symbols")
	symbols, err := a.symbols(ctx, flagSymbols)
	if err != nil {
		return fmt.Errorf("获取标的列表失败: %w", err)
	}
	params, err := a.cfg.AllParams(symbols)
	if err != nil {
		return err
	}

	report := r.Run(ctx, params)

	outDir, _ := cmd.Flags().GetString("out")
	if outDir == "" {
		outDir = a.cfg.Runner.OutputDir
	}
	if err := writeOutputs(report, outDir, a.cfg.Runner.WriteReports); err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), report)
	if report.AllFailed() {
		return fmt.Errorf("所有标的回测失败")
	}
	return nil
}

// writeOutputs 每个成功的标的写出账本 CSV、资金曲线和可选的 markdown 报告
func writeOutputs(report *runner.Report, dir string, withReports bool) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	for _, sym := range report.Symbols() {
		res := report.Results[sym]
		if !res.OK() {
			continue
		}
		ledgerPath, err := backtest.SaveLedgerCSV(res.Ledger, dir)
		if err != nil {
			return fmt.Errorf("[%s] 写入账本失败: %w", sym, err)
		}
		if _, err := backtest.SaveEquityCurveCSV(res.Ledger, dir); err != nil {
			return fmt.Errorf("[%s] 写入资金曲线失败: %w", sym, err)
		}
		logger.Info("📄 [%s] 账本已保存: %s", sym, ledgerPath)

		if withReports {
			reportPath, err := backtest.GenerateReport(res.Ledger, dir)
			if err != nil {
				return fmt.Errorf("[%s] 生成报告失败: %w", sym, err)
			}
			logger.Info("📄 [%s] 报告已生成: %s", sym, reportPath)
		}
	}
	return nil
}

func printSummary(w io.Writer, report *runner.Report) {
	fmt.Fprintf(w, "\nrun %s\n", report.RunID)
	fmt.Fprintf(w, "%-14s %8s %12s %14s %8s  %s\n", "SYMBOL", "TRADES", "PNL", "FINAL", "WIN%", "STATUS")
	for _, sym := range report.Symbols() {
		res := report.Results[sym]
		if !res.OK() {
			fmt.Fprintf(w, "%-14s %8s %12s %14s %8s  %s\n", sym, "-", "-", "-", "-", res.Error)
			continue
		}
		m := res.Ledger.Metrics
		fmt.Fprintf(w, "%-14s %8d %12.2f %14.2f %8.2f  ok\n", sym, m.TotalTrades, m.TotalPnL, res.Ledger.FinalCapital, m.WinRate)
	}
	s := report.Summary()
	fmt.Fprintf(w, "\n%d/%d succeeded, %d trades, total pnl %.2f\n", s.Succeeded, s.Instruments, s.TotalTrades, s.TotalPnL)
}
