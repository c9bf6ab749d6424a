package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/mauv0809/screener/internal/app"
	"github.com/mauv0809/screener/internal/config"
	"github.com/mauv0809/screener/internal/logging"
	"github.com/spf13/cobra"
)

var (
	// Global state, built before any subcommand runs
	screener *app.App

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "screener",
	Short:         "Company fundamentals screener",
	Long:          `Imports financial statements, derives fundamentals and refreshes market data.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger := logging.Setup(cfg.LogLevel, "console")

		screener, err = app.New(cmd.Context(), cfg, logger, app.Options{RequireDatabase: true})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if screener != nil {
			screener.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.AddCommand(importCmd, fundamentalsCmd, marketCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
