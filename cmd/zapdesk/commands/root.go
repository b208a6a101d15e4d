// Package commands implements the ZapDesk CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zapdesk",
		Short: "ZapDesk - WhatsApp support assistant",
		Long: `ZapDesk runs WhatsApp bot sessions with a retrieval-augmented
responder and an admin dashboard.

Examples:
  zapdesk serve
  zapdesk serve --config ./zapdesk.yaml`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")

	return rootCmd
}
