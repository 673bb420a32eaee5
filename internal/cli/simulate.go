package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"wednesday-alerts/internal/app"
)

var (
	simulateAsset string
	simulateStep  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <price>...",
	Short: "用给定价格序列回放趋势检测，不发送消息",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prices := make([]float64, 0, len(args))
		for _, raw := range args {
			p, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("无效价格 %q: %w", raw, err)
			}
			prices = append(prices, p)
		}
		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Symbol: simulateAsset,
			Step:   simulateStep,
			Prices: prices,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "BTC", "资产代码")
	simulateCmd.Flags().Float64Var(&simulateStep, "step", 0, "档位步长（默认取配置）")
}
