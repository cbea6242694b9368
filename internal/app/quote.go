package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"gasfund/internal/gas"
	"gasfund/internal/oracle"
)

// Quote polls the configured sources once and prints the merged fee
// recommendation. The database is optional here; without it the trend
// reads unknown.
func (a *App) Quote(ctx context.Context, opts QuoteOptions) error {
	var history oracle.HistoryProvider

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("database unavailable; trend will read unknown")
	} else if store != nil {
		defer closeStore()
		history = store
	}

	orc, err := a.newOracle(nil, history)
	if err != nil {
		return err
	}

	quote := orc.OptimalFee(ctx)
	if quote.Empty() {
		return errors.New("no source returned a usable gas price")
	}

	gasLimit := opts.GasLimit
	if gasLimit == 0 {
		gasLimit = a.Config.Risk.DefaultGasLimit
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Tier\tGwei\tCost (ETH)")
	for _, tier := range gas.Tiers() {
		v, ok := quote.Value(tier)
		if !ok {
			fmt.Fprintf(writer, "%s\t-\t-\n", tier)
			continue
		}
		cost := orc.EstimateCost(ctx, gasLimit, tier)
		fmt.Fprintf(writer, "%s\t%d\t%s\n", tier, v, formatDecimal(cost, 6))
	}
	writer.Flush()

	fmt.Fprintf(os.Stdout, "\nGas limit: %d\n", gasLimit)
	fmt.Fprintf(os.Stdout, "Trend: %s\n", orc.Trend(ctx))

	if opts.MaxGwei > 0 {
		verdict := "no"
		if orc.IsReasonable(ctx, opts.MaxGwei) {
			verdict = "yes"
		}
		fmt.Fprintf(os.Stdout, "Within %d gwei budget: %s\n", opts.MaxGwei, verdict)
	}

	return nil
}
