package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionsCmd = &cobra.Command{
	Use:   "versions <id>",
	Short: "List installed versions of an agent",
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

		info, err := inst.Describe(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, ref := range info.Versions {
			marker := " "
			if ref == info.Current {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s\n", marker, ref)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}
