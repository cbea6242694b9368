package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"gasfund/internal/risk"
)

// Position prints sizing advice for a leveraged position. The wallet
// balance comes from --balance when given, otherwise it is fetched
// on-chain.
func (a *App) Position(ctx context.Context, opts PositionOptions) error {
	balance := opts.Balance
	if balance.IsZero() {
		address := opts.Address
		if address == "" {
			address = a.Config.Ethereum.WalletAddress
		}
		if address == "" {
			return errors.New("provide --balance or configure ethereum.wallet_address")
		}

		w := a.newWallet()
		defer w.Close()

		fetched, err := w.Balance(ctx, address)
		if err != nil {
			return fmt.Errorf("fetch balance for %s: %w", address, err)
		}
		balance = fetched
	}

	orc, err := a.newOracle(nil, nil)
	if err != nil {
		return err
	}
	engine := a.newEngine(orc)

	sizing, err := engine.MaxPositionSize(ctx, risk.SizingInput{
		Balance:      balance,
		Price:        opts.Price,
		Leverage:     opts.Leverage,
		GasLimit:     opts.GasLimit,
		PriceHistory: opts.History,
	})
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Balance\t%s ETH\n", formatDecimal(balance, 6))
	fmt.Fprintf(writer, "Risk level\t%s\n", sizing.RiskLevel)
	fmt.Fprintf(writer, "Estimated tx cost\t%s ETH\n", formatDecimal(sizing.EstimatedCost, 6))
	if sizing.MaxSize.IsZero() {
		writer.Flush()
		fmt.Fprintln(os.Stdout, "balance cannot cover the transaction cost; no position possible")
		return nil
	}
	fmt.Fprintf(writer, "Max size\t%s\n", formatDecimal(sizing.MaxSize, 6))
	fmt.Fprintf(writer, "Required margin\t%s\n", formatDecimal(sizing.RequiredMargin, 6))
	fmt.Fprintf(writer, "Liquidation price\t%s\n", formatDecimal(sizing.LiquidationPrice, 6))
	writer.Flush()

	if opts.Size.IsZero() {
		return nil
	}

	quote, err := engine.LeverageForPosition(ctx, opts.Size, balance, opts.Price, opts.History)
	if err != nil {
		return err
	}
	value := opts.Size.Mul(opts.Price)
	if quote == nil {
		fmt.Fprintf(os.Stdout, "\nA %s position is not feasible with these funds\n", formatDecimal(value, 6))
		return nil
	}

	fmt.Fprintf(os.Stdout, "\nFor a position of %s (size %s):\n", formatDecimal(value, 6), formatDecimal(opts.Size, 6))
	writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Recommended leverage\t%.2fx\n", quote.Leverage)
	fmt.Fprintf(writer, "Required margin\t%s\n", formatDecimal(quote.RequiredMargin, 6))
	fmt.Fprintf(writer, "Liquidation price\t%s\n", formatDecimal(quote.LiquidationPrice, 6))
	fmt.Fprintf(writer, "Risk level\t%s\n", quote.RiskLevel)
	writer.Flush()

	return nil
}
