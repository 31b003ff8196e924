package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusAt string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the open/closed verdict and session schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		var at *time.Time
		if statusAt != "" {
			parsed, err := time.Parse(time.RFC3339, statusAt)
			if err != nil {
				return fmt.Errorf("invalid --at value: %w", err)
			}
			at = &parsed
		}
		return getApp().Status(at)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAt, "at", "", "Evaluate at this instant (RFC3339) instead of now")
}
