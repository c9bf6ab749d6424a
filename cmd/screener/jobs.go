package main

import (
	"context"

	"github.com/mauv0809/screener/internal/market"
	"github.com/spf13/cobra"
)

var fundamentalsCmd = &cobra.Command{
	Use:   "fundamentals",
	Short: "Regenerate fundamentals for every active company",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := screener.Engine.RegenerateAll(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Refresh market data for every active company",
}

func init() {
	marketCmd.AddCommand(
		marketJobCmd("snapshot", "Refresh live quote snapshots", func(ctx context.Context) (*market.BatchResult, error) {
			return screener.Refresher.RefreshSnapshots(ctx)
		}),
		marketJobCmd("weekly", "Append the latest daily bar to price history", func(ctx context.Context) (*market.BatchResult, error) {
			return screener.Refresher.WeeklyUpdate(ctx)
		}),
		marketJobCmd("history", "Backfill full price history", func(ctx context.Context) (*market.BatchResult, error) {
			return screener.Refresher.BackfillHistories(ctx)
		}),
	)
}

func marketJobCmd(use, short string, run func(context.Context) (*market.BatchResult, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}
