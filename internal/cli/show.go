package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wednesday-alerts/internal/app"
)

var (
	showLimit       int
	showPruneBefore string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent trend alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
		}

		if showPruneBefore != "" {
			cutoff, err := time.Parse(time.RFC3339, showPruneBefore)
			if err != nil {
				return fmt.Errorf("invalid --prune-before value: %w", err)
			}
			opts.PruneBefore = &cutoff
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of alerts to display")
	showCmd.Flags().StringVar(&showPruneBefore, "prune-before", "", "Delete alerts created before this timestamp (RFC3339) first")
}
