package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/barysiuk/agentpkg/internal/core/manifest"
	"github.com/barysiuk/agentpkg/internal/tui"
)

const readmeWrap = 80

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of an installed agent",
	Long: `Show the install record and manifest of an agent's active version,
followed by its README.md rendered for the terminal.`,
	Args: cobra.ExactArgs(1),
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
		fmt.Fprintln(out, tui.Title(info.ID))

		if info.Current == "" {
			fmt.Fprintln(out, tui.Warning("not activated"))
			return nil
		}
		dir, err := inst.Store().CurrentDir(info.ID)
		if err != nil {
			return err
		}
		m, err := manifest.Load(dir)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Name:        %s\n", m.Name)
		if m.Version != "" {
			fmt.Fprintf(out, "Version:     %s\n", m.Version)
		}
		if m.Description != "" {
			fmt.Fprintf(out, "Description: %s\n", m.Description)
		}
		if m.Author != "" {
			fmt.Fprintf(out, "Author:      %s\n", m.Author)
		}
		if m.Entry != "" {
			fmt.Fprintf(out, "Entry:       %s\n", m.Entry)
		}
		runtime := string(m.Runtime.Type)
		if runtime == "" {
			runtime = string(manifest.RuntimeNone)
		}
		fmt.Fprintf(out, "Runtime:     %s\n", runtime)
		fmt.Fprintf(out, "Current:     %s\n", tui.Ref(info.Current))
		fmt.Fprintf(out, "Path:        %s\n", dir)
		if rec := info.Record; rec != nil {
			fmt.Fprintf(out, "Source:      %s %s\n", rec.SourceType, rec.Source)
			if rec.Revision != "" {
				fmt.Fprintf(out, "Revision:    %s\n", rec.Revision)
			}
			if rec.SubPath != "" {
				fmt.Fprintf(out, "Sub-path:    %s\n", rec.SubPath)
			}
			fmt.Fprintf(out, "Installed:   %s\n", formatTime(rec.InstalledAt))
		}

		plain, _ := cmd.Flags().GetBool("plain")
		return showReadme(out, dir, plain || !interactive())
	},
}

// showReadme prints README.md from dir, rendered with glamour unless plain.
func showReadme(out io.Writer, dir string, plain bool) error {
	data, err := os.ReadFile(filepath.Join(dir, "README.md"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading README: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, tui.SectionHeader("README"))
	if plain {
		fmt.Fprintln(out, strings.TrimRight(string(data), "\n"))
		return nil
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(readmeWrap),
	)
	if err != nil {
		return fmt.Errorf("creating markdown renderer: %w", err)
	}
	rendered, err := r.Render(string(data))
	if err != nil {
		return fmt.Errorf("rendering README: %w", err)
	}
	fmt.Fprint(out, rendered)
	return nil
}

func init() {
	showCmd.Flags().Bool("plain", false, "Print README.md without rendering")
	rootCmd.AddCommand(showCmd)
}
