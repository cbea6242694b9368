package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"
)

// Show prints recent fee quotes.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show quotes")
	}
	if closeStore != nil {
		defer closeStore()
	}

	quotes, err := store.ListRecentQuotes(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		fmt.Fprintln(os.Stdout, "no quotes found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tFast\tStandard\tSlow\tStatus")

	for _, row := range quotes {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			row.Bucket.UTC().Format(time.RFC3339),
			formatGwei(row.Fast),
			formatGwei(row.Standard),
			formatGwei(row.Slow),
			row.Status,
		)
	}

	writer.Flush()

	totalQuotes, err := store.CountQuotes(ctx)
	if err != nil {
		return err
	}
	totalSamples, err := store.CountFeeSamples(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\n%d quotes and %d raw samples stored\n", totalQuotes, totalSamples)
	return nil
}

func formatGwei(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}
