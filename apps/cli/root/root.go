package root

import (
	"context"

	"github.com/spf13/cobra"
)

// rootCmd is the base command for the bizdesk operator CLI. Subcommands are attached in wire.go.
var rootCmd = &cobra.Command{
	Use:           "bizdesk",
	Short:         "Bizdesk operator CLI",
	Long:          "Operational utilities for Bizdesk: migrations, tenant maintenance, availability consolidation and tokens.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level for stderr output (debug, info, warn, error)")
}

// Execute runs the CLI; ctx reaches every subcommand through cmd.Context().
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
