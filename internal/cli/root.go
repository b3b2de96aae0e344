// Package cli implements the meshclient commands.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagServer   string
	flagLogLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshclient",
	Short: "Full-mesh WebRTC room client",
	Long: `meshclient joins a signaling server's rooms as a WebRTC mesh participant,
negotiating one peer connection with every other member, and inspects the
server's rooms over its HTTP API.`,
}

// Execute runs the root command. It only needs to happen once.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		PrintError(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", envOr("MESH_SERVER", "http://localhost:8080"), "Signaling server base URL")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", envOr("LOG_LEVEL", "warn"), "Log level (debug, info, warn, error)")
}
