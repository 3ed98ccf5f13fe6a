package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "agentpkg",
	Short: "Install and activate versioned agent packages",
	Long: `agentpkg installs agent bundles from zip archives or git repositories.

Every install lands in its own content-addressed version directory under
~/.agentpkg/agents/<id>/<ref> and becomes active by an atomic swap of the
agent's "current" link. Set AGENTPKG_HOME or --home to use another base.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "agentpkg %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("home", "", "Base directory (default: $AGENTPKG_HOME or ~/.agentpkg)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error, silent")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. An interrupt cancels the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
