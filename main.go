package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bandshort/logger"
)

// Version 版本号
var Version = "1.0.0"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bandshort",
		Short:         "Bollinger upper-band breakout short backtester",
		Long:          "Replays minute candles through a Bollinger upper-band breakout short strategy and writes per-instrument order ledgers.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Path to the YAML configuration file")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bandshort %s\n", Version)
		},
	})
	return rootCmd
}
