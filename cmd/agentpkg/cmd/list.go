package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

const sourceColumnWidth = 48

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List installed agents",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd)
		if err != nil {
			return err
		}
		inst, err := d.installer(nil)
		if err != nil {
			return err
		}

		infos, err := inst.ListAgents()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(infos) == 0 {
			fmt.Fprintln(out, "No agents installed.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCURRENT\tVERSIONS\tSOURCE")
		for _, info := range infos {
			current := shortRef(info.Current)
			if current == "" {
				current = "-"
			}
			source := "-"
			if info.Record != nil {
				source = fmt.Sprintf("%s:%s", info.Record.SourceType, info.Record.Source)
				if info.Record.SubPath != "" {
					source += "//" + info.Record.SubPath
				}
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", info.ID, current, len(info.Versions), truncate(source, sourceColumnWidth))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
