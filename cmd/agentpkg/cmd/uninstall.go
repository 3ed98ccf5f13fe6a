package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <id>",
	Short: "Remove an agent and all of its installed versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		inst, err := d.installer(nil)
		if err != nil {
			return err
		}
		if err := inst.Uninstall(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
}
