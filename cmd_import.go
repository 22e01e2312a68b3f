package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"bandshort/database"
	"bandshort/feed"
	"bandshort/logger"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a minute-candle CSV export into the minute_candle table",
		RunE:  runImport,
	}
	cmd.Flags().String("csv", "", "CSV file with CreatedOn, InstrumentIdentifier, OpenValue, High, Low, CloseValue (defaults to data.csv_path)")
	cmd.Flags().String("if-exists", string(database.ImportReplace), "What to do when the table has rows: replace, append or fail")
	return cmd
}

func runImport(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	path, _ := cmd.Flags().GetString("csv")
	if path == "" {
		path = a.cfg.Data.CSVPath
	}
	mode, _ := cmd.Flags().GetString("if-exists")

	grouped, err := feed.LoadCSV(path)
	if err != nil {
		return err
	}
	symbols := make([]string, 0, len(grouped))
	for sym := range grouped {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var rows []*database.Candle
	for _, sym := range symbols {
		rows = append(rows, database.CandlesFromFeed(grouped[sym])...)
	}

	db, err := a.openDatabase()
	if err != nil {
		return err
	}
	n, err := db.ImportCandles(cmd.Context(), rows, database.ImportMode(mode))
	if err != nil {
		return fmt.Errorf("导入失败: %w", err)
	}

	logger.Info("✅ 已导入 %d 条K线，%d 个标的 (%s)", n, len(symbols), mode)
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d candles for %d instruments\n", n, len(symbols))
	return nil
}
