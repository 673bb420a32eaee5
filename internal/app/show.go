package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"wednesday-alerts/internal/storage"
)

// Show prints recent trend alerts, optionally pruning older rows first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	return a.show(ctx, os.Stdout, opts)
}

func (a *App) show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.PruneBefore != nil {
		cutoff := opts.PruneBefore.UTC()
		if err := store.DeleteTrendAlertsBefore(ctx, cutoff); err != nil {
			return err
		}
		a.Logger.Info().Time("before", cutoff).Msg("pruned trend alerts")
	}

	alerts, err := store.ListRecentTrendAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeAlertTable(out, alerts)
}

func writeAlertTable(out io.Writer, alerts []storage.TrendAlert) error {
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(out, "no trend alerts found")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tRate\tDirection\tRecipients")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Symbol,
			alert.Rate.String(),
			alert.Direction(),
			alert.Recipients,
		)
	}
	return writer.Flush()
}
