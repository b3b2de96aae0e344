package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the signaling server is up",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		h, err := newAPIClient(flagServer).Health(ctx)
		if err != nil {
			return fmt.Errorf("server unreachable: %w", err)
		}
		PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("%s is %s %s", flagServer, h.Status, MutedStyle.Render("("+h.Timestamp+")")))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
