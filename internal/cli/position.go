package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"gasfund/internal/app"
)

var (
	positionBalance  float64
	positionAddress  string
	positionPrice    float64
	positionLeverage float64
	positionSize     float64
	positionHistory  []float64
	positionGasLimit uint64
)

var positionCmd = &cobra.Command{
	Use:   "position",
	Short: "Size a leveraged position against wallet funds",
	RunE: func(cmd *cobra.Command, args []string) error {
		if positionPrice <= 0 {
			return fmt.Errorf("--price must be greater than zero")
		}
		if positionBalance < 0 || positionSize < 0 {
			return fmt.Errorf("--balance and --size must not be negative")
		}

		opts := app.PositionOptions{
			Address:  positionAddress,
			Price:    decimal.NewFromFloat(positionPrice),
			Leverage: positionLeverage,
			History:  positionHistory,
			GasLimit: positionGasLimit,
		}
		if positionBalance > 0 {
			opts.Balance = decimal.NewFromFloat(positionBalance)
		}
		if positionSize > 0 {
			opts.Size = decimal.NewFromFloat(positionSize)
		}

		return getApp().Position(cmd.Context(), opts)
	},
}

func init() {
	positionCmd.Flags().Float64Var(&positionBalance, "balance", 0, "Wallet balance in ETH (fetched on-chain when omitted)")
	positionCmd.Flags().StringVar(&positionAddress, "address", "", "Wallet address to fetch the balance for")
	positionCmd.Flags().Float64Var(&positionPrice, "price", 0, "Current asset price")
	positionCmd.Flags().Float64Var(&positionLeverage, "leverage", 1, "Requested leverage")
	positionCmd.Flags().Float64Var(&positionSize, "size", 0, "Desired position size; adds a leverage recommendation")
	positionCmd.Flags().Float64SliceVar(&positionHistory, "history", nil, "Recent price history for the volatility assessment")
	positionCmd.Flags().Uint64Var(&positionGasLimit, "gas-limit", 0, "Gas limit for the cost estimate (defaults to config)")
}
