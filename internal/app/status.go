package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"drawdown-alerts/internal/quote"
)

// Status prints a live system report: registered devices, seeded peaks with
// freshness, and current prices with drawdowns. Read-only; no peak is
// updated and no alert is raised.
func (a *App) Status(ctx context.Context, opts StatusOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot report status")
	}
	if closeStore != nil {
		defer closeStore()
	}

	now := time.Now().UTC()

	tokens, err := store.ListDeviceTokens(ctx)
	if err != nil {
		return err
	}
	active := 0
	for _, token := range tokens {
		if token.Active {
			active++
		}
	}
	fmt.Fprintf(os.Stdout, "Device tokens: %d registered, %d active\n", len(tokens), active)

	peaks, err := store.ListPeaks(ctx)
	if err != nil {
		return err
	}
	peakBySymbol := make(map[string]int, len(peaks))
	for i, peak := range peaks {
		peakBySymbol[peak.Symbol] = i
	}

	var fetcher quote.Fetcher
	if !opts.SkipQuotes {
		fetcher = a.newQuoteFetcher()
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tName\tPeak\tPeak Age\tPrice\tDrawdown%\tNote")

	threshold := decimal.NewFromFloat(a.Config.Alerting.ThresholdPct).Neg()

	for _, asset := range a.watchlist() {
		idx, seeded := peakBySymbol[asset.Symbol]
		if !seeded {
			fmt.Fprintf(writer, "%s\t%s\t-\t-\t-\t-\tno peak seeded\n", asset.Symbol, asset.Name)
			continue
		}
		peak := peaks[idx]
		peakAge := formatAge(now.Sub(peak.UpdatedAt))

		if fetcher == nil {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t-\t-\t\n",
				asset.Symbol, asset.Name, peak.PeakPrice.StringFixed(2), peakAge)
			continue
		}

		sample, fetchErr := fetcher.FetchQuote(ctx, asset.Symbol, asset.Class)
		if fetchErr != nil {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t-\t-\tquote failed: %v\n",
				asset.Symbol, asset.Name, peak.PeakPrice.StringFixed(2), peakAge, fetchErr)
			continue
		}

		// Mirrors the engine's effective-peak rule without writing anything;
		// only a monitoring pass moves the stored peak.
		reference := peak.PeakPrice
		if sample.Price.GreaterThan(reference) {
			reference = sample.Price
		}
		drawdown := sample.Price.Sub(reference).Div(reference).Mul(decimal.NewFromInt(100))

		note := ""
		if sample.Price.GreaterThan(peak.PeakPrice) {
			note = "above stored peak"
		} else if drawdown.LessThanOrEqual(threshold) {
			note = "BREACHED"
		}

		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			asset.Symbol,
			asset.Name,
			peak.PeakPrice.StringFixed(2),
			peakAge,
			sample.Price.StringFixed(2),
			drawdown.StringFixed(2),
			note,
		)
	}

	return writer.Flush()
}

func formatAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%.1fh", age.Hours())
	default:
		return fmt.Sprintf("%.1fd", age.Hours()/24)
	}
}
