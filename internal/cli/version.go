package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"wednesday-alerts/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "wednesday %s\nuser-agent: %s\n", version.String(), version.UserAgent())
	},
}
