package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Logs prints recent execution records and alerts, with a freshness
// assessment of the external trigger.
func (a *App) Logs(ctx context.Context, opts LogsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show logs")
	}
	if closeStore != nil {
		defer closeStore()
	}

	executions, err := store.ListRecentExecutions(ctx, opts.Executions)
	if err != nil {
		return err
	}

	if len(executions) == 0 {
		fmt.Fprintln(os.Stdout, "no execution records found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Started (UTC)\tChecked\tPeaks\tAlerts\tFailed\tSkipped\tDuration\tStatus")
		for _, rec := range executions {
			fmt.Fprintf(writer, "%s\t%d\t%d\t%d\t%d\t%d\t%.1fs\t%s\n",
				rec.StartedAt.UTC().Format(time.RFC3339),
				rec.AssetsChecked,
				rec.PeaksUpdated,
				rec.AlertsSent,
				rec.AssetsFailed,
				rec.AssetsSkipped,
				rec.DurationSeconds,
				rec.Status,
			)
		}
		if err := writer.Flush(); err != nil {
			return err
		}

		sinceLast := time.Since(executions[0].StartedAt)
		switch {
		case sinceLast <= 2*a.Config.Scheduler.Interval:
			fmt.Fprintf(os.Stdout, "\nscheduler healthy: last pass %s ago\n", formatAge(sinceLast))
		case sinceLast <= time.Hour:
			fmt.Fprintf(os.Stdout, "\nscheduler may be delayed: last pass %s ago\n", formatAge(sinceLast))
		default:
			fmt.Fprintf(os.Stdout, "\nscheduler appears stopped: last pass %s ago\n", formatAge(sinceLast))
		}
	}

	if opts.Alerts <= 0 {
		return nil
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Alerts)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "\nno alerts recorded")
		return nil
	}

	fmt.Fprintln(os.Stdout, "")
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Raised (UTC)\tSymbol\tDrawdown%\tThreshold%\tPrice\tPeak\tNotified")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			alert.RaisedAt.UTC().Format(time.RFC3339),
			alert.Symbol,
			alert.DrawdownPct.StringFixed(2),
			alert.ThresholdPct.StringFixed(2),
			alert.PriceAtAlert.StringFixed(2),
			alert.PeakAtAlert.StringFixed(2),
			alert.NotificationSent,
		)
	}
	return writer.Flush()
}
