package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"wednesday-alerts/internal/storage"
)

const defaultExportWindow = 30 * 24 * time.Hour

// Export renders the trend alert history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	alerts, err := store.ListTrendAlertsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	alerts = filterSymbol(alerts, opts.Symbol)
	if len(alerts) == 0 {
		a.Logger.Info().Msg("no trend alerts found for export window")
		return nil
	}

	downsampled := downsampleAlerts(alerts, opts.MaxPoints)
	a.Logger.Info().Int("total", len(alerts)).Int("exported", len(downsampled)).Msg("exporting trend alerts")

	if opts.CSVPath != "" {
		if err := writeAlertsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeAlertsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func filterSymbol(alerts []storage.TrendAlert, symbol string) []storage.TrendAlert {
	if symbol == "" {
		return alerts
	}
	out := alerts[:0:0]
	for _, alert := range alerts {
		if strings.EqualFold(alert.Symbol, symbol) {
			out = append(out, alert)
		}
	}
	return out
}

func downsampleAlerts(alerts []storage.TrendAlert, max int) []storage.TrendAlert {
	if max <= 0 || len(alerts) <= max {
		return alerts
	}
	if max == 1 {
		return alerts[len(alerts)-1:]
	}

	result := make([]storage.TrendAlert, 0, max)
	step := float64(len(alerts)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(alerts) {
			idx = len(alerts) - 1
		}
		result = append(result, alerts[idx])
	}
	return result
}

func writeAlertsCSV(path string, alerts []storage.TrendAlert) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"created_at", "symbol", "rate", "direction", "recipients"}); err != nil {
		return err
	}
	for _, alert := range alerts {
		record := []string{
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Symbol,
			alert.Rate.String(),
			alert.Direction(),
			strconv.Itoa(alert.Recipients),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// writeAlertsPNG draws one time series per symbol.
func writeAlertsPNG(path string, alerts []storage.TrendAlert) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var order []string
	bySymbol := make(map[string]*chart.TimeSeries)
	for _, alert := range alerts {
		series, ok := bySymbol[alert.Symbol]
		if !ok {
			series = &chart.TimeSeries{Name: alert.Symbol}
			bySymbol[alert.Symbol] = series
			order = append(order, alert.Symbol)
		}
		series.XValues = append(series.XValues, alert.CreatedAt)
		series.YValues = append(series.YValues, alert.Rate.InexactFloat64())
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Rate (USD)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.3f")
			},
		},
	}
	for _, symbol := range order {
		series := bySymbol[symbol]
		if len(series.XValues) < 2 {
			// go-chart needs two points to draw a line.
			series.XValues = append(series.XValues, series.XValues[0].Add(time.Second))
			series.YValues = append(series.YValues, series.YValues[0])
		}
		graph.Series = append(graph.Series, *series)
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
