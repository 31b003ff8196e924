package cli

import (
	"github.com/spf13/cobra"
)

var collectForce bool

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a single gated collection attempt",
	Long: "Evaluates the trading calendar for the current instant and, when a " +
		"session is active, performs exactly one snapshot collection. Outside " +
		"a session this is a logged no-op.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Collect(cmd.Context(), collectForce)
	},
}

func init() {
	collectCmd.Flags().BoolVar(&collectForce, "force", false, "Collect even when the calendar says the market is closed")
}
