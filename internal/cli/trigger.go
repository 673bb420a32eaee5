package cli

import (
	"github.com/spf13/cobra"

	"wednesday-alerts/internal/scheduler"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <task>",
	Short: "Run one task now (wednesday, crypto, heartbeat, trend:<SYMBOL>)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := scheduler.ParseTask(args[0])
		if err != nil {
			return err
		}
		return getApp().Trigger(cmd.Context(), task)
	},
}
