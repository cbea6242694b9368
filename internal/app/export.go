package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"gasfund/internal/storage"
)

// Export renders historical quotes as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	quotes, err := store.ListQuotesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		a.Logger.Info().Msg("no quotes found for export window")
		return nil
	}

	downsampled := downsampleQuotes(quotes, opts.MaxPoints)
	a.Logger.Info().Int("total", len(quotes)).Int("exported", len(downsampled)).Msg("exporting quotes")

	if opts.CSVPath != "" {
		if err := writeQuotesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeQuotesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleQuotes(quotes []storage.QuoteRow, max int) []storage.QuoteRow {
	if max <= 0 || len(quotes) <= max {
		return quotes
	}

	result := make([]storage.QuoteRow, 0, max)
	step := float64(len(quotes)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(quotes) {
			idx = len(quotes) - 1
		}
		result = append(result, quotes[idx])
	}
	return result
}

func writeQuotesCSV(path string, quotes []storage.QuoteRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "fast_gwei", "standard_gwei", "slow_gwei", "status"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range quotes {
		record := []string{
			row.Bucket.Format(time.RFC3339),
			csvGwei(row.Fast),
			csvGwei(row.Standard),
			csvGwei(row.Slow),
			row.Status,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func csvGwei(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

// writeQuotesPNG charts the three fee tiers. Buckets where a tier is
// absent drop out of that tier's series; a series below two points is
// left off the chart entirely.
func writeQuotesPNG(path string, quotes []storage.QuoteRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	tiers := []struct {
		name  string
		value func(storage.QuoteRow) *int64
	}{
		{"Fast", func(r storage.QuoteRow) *int64 { return r.Fast }},
		{"Standard", func(r storage.QuoteRow) *int64 { return r.Standard }},
		{"Slow", func(r storage.QuoteRow) *int64 { return r.Slow }},
	}

	series := make([]chart.Series, 0, len(tiers))
	for _, tier := range tiers {
		var x []time.Time
		var y []float64
		for _, row := range quotes {
			if v := tier.value(row); v != nil {
				x = append(x, row.Bucket)
				y = append(y, float64(*v))
			}
		}
		if len(x) < 2 {
			continue
		}
		series = append(series, chart.TimeSeries{
			Name:    tier.name,
			XValues: x,
			YValues: y,
		})
	}

	if len(series) == 0 {
		return errors.New("not enough data points for a chart")
	}

	feeFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Fee (gwei)",
			ValueFormatter: feeFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
