package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"wednesday-alerts/internal/alerting"
	"wednesday-alerts/internal/cache"
	"wednesday-alerts/internal/trend"
)

// Simulate 把给定价格序列依次喂给趋势检测器并打印每一步结果，不访问外部服务。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	return a.simulate(ctx, os.Stdout, opts)
}

func (a *App) simulate(ctx context.Context, out io.Writer, opts SimulateOptions) error {
	if len(opts.Prices) == 0 {
		return errors.New("至少需要一个价格")
	}
	symbol := strings.ToUpper(opts.Symbol)
	step := opts.Step
	if step <= 0 {
		ac, ok := a.Config.Asset(symbol)
		if !ok {
			return fmt.Errorf("asset %s is not configured; pass --step", symbol)
		}
		step = ac.Step
	}

	notifier := &printingNotifier{out: out}
	detector := trend.NewDetector(cache.NewMemory(), notifier, a.fetchPolicy(), a.Logger)
	asset := trend.Asset{Symbol: symbol, Step: step}

	for i, price := range opts.Prices {
		decision, err := detector.Observe(ctx, asset, price)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "#%d %s %v bucket=%d prev=%d grew=%t -> %s\n",
			i+1, symbol, price, decision.Bucket, decision.PrevBucket, decision.Grew, decision.Outcome)
	}
	return nil
}

type printingNotifier struct {
	out io.Writer
}

func (p *printingNotifier) NotifyTrend(_ context.Context, asset trend.Asset, rate float64, grew bool) error {
	_, err := fmt.Fprintf(p.out, "   notify: %s\n", alerting.FormatTrend(asset.Symbol, rate, grew))
	return err
}
