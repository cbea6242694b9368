package cli

import (
	"github.com/spf13/cobra"

	"gasfund/internal/app"
)

var (
	quoteGasLimit uint64
	quoteMaxGwei  uint64
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Print the current optimal gas fee",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.QuoteOptions{
			GasLimit: quoteGasLimit,
			MaxGwei:  quoteMaxGwei,
		}

		return getApp().Quote(cmd.Context(), opts)
	},
}

func init() {
	quoteCmd.Flags().Uint64Var(&quoteGasLimit, "gas-limit", 0, "Gas limit for the cost estimate (defaults to config)")
	quoteCmd.Flags().Uint64Var(&quoteMaxGwei, "max-gwei", 0, "Also report whether the standard fee stays within this budget")
}
