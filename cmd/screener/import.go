package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file> <ticker>",
	Short: "Import a Data Sheet workbook for a company",
	Long:  `Imports every statement value in the workbook's "Data Sheet", then regenerates the company's fundamentals and backfills its price history.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	res, err := screener.Importer.ImportFile(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Import completed for %s: %d values\n", res.Company.Ticker, res.Facts)
	if res.FundamentalsErr != nil {
		fmt.Fprintf(out, "warning: fundamentals not generated: %v\n", res.FundamentalsErr)
	}
	if res.HistoryErr != nil {
		fmt.Fprintf(out, "warning: history not backfilled: %v\n", res.HistoryErr)
	} else {
		fmt.Fprintf(out, "History rows added: %d\n", res.HistoryRows)
	}
	return nil
}
