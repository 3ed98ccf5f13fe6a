package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barysiuk/agentpkg/internal/core"
	"github.com/barysiuk/agentpkg/internal/tui"
)

var installCmd = &cobra.Command{
	Use:   "install <source>",
	Short: "Install an agent from a zip archive or git repository",
	Long: `Install an agent and make it the active version.

Sources can be:
  ./agent.zip                               Local zip archive
  ./path/to/repo                            Local git repository
  owner/repo                                GitHub shorthand
  https://github.com/owner/repo             Full URL
  https://github.com/owner/repo/tree/ref/p  URL with revision and sub-path
  git@host:owner/repo.git                   SSH clone URL

The source type is detected automatically; --type forces it.
The agent's identity always comes from the manifest in the bundle
(agent.json, agent.yaml or agent.yml).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(cmd, args[0])
		if err != nil {
			return err
		}

		d, err := newDeps(cmd)
		if err != nil {
			return err
		}

		plain, _ := cmd.Flags().GetBool("plain")
		out := cmd.OutOrStdout()

		var res *core.InstallResult
		if !plain && interactive() {
			progress := tui.NewProgress("Installing", out)
			inst, err := d.installer(progress.Observe)
			if err != nil {
				return err
			}
			res, err = progress.Run(cmd.Context(), func(ctx context.Context) (*core.InstallResult, error) {
				return inst.Run(ctx, *req)
			})
			if err != nil {
				return err
			}
		} else {
			inst, err := d.installer(nil)
			if err != nil {
				return err
			}
			if res, err = inst.Run(cmd.Context(), *req); err != nil {
				return err
			}
		}

		fmt.Fprintf(out, "Installed: %s (%s)\n", res.AgentID, res.Name)
		fmt.Fprintf(out, "  Version: %s\n", res.VersionRef)
		fmt.Fprintf(out, "  Path: %s\n", res.Dir)
		return nil
	},
}

// buildRequest turns the argument and flags into an install request.
func buildRequest(cmd *cobra.Command, source string) (*core.InstallRequest, error) {
	sourceType, _ := cmd.Flags().GetString("type")
	revision, _ := cmd.Flags().GetString("revision")
	subPath, _ := cmd.Flags().GetString("subpath")

	var req *core.InstallRequest
	switch core.SourceType(sourceType) {
	case "":
		parsed, err := core.ParseSource(source)
		if err != nil {
			return nil, fmt.Errorf("invalid source: %w", err)
		}
		req = parsed
	case core.SourceTypeLocal:
		req = &core.InstallRequest{SourceType: core.SourceTypeLocal, Path: source}
	default:
		// Unknown types pass through so the installer reports them.
		req = &core.InstallRequest{SourceType: core.SourceType(sourceType), URL: source}
	}

	if req.SourceType == core.SourceTypeLocal && (revision != "" || subPath != "") {
		return nil, fmt.Errorf("--revision and --subpath apply to git sources only")
	}
	if revision != "" {
		req.Revision = revision
	}
	if subPath != "" {
		req.SubPath = subPath
	}
	return req, nil
}

func init() {
	installCmd.Flags().String("type", "", "Source type: local or git (default: detect)")
	installCmd.Flags().StringP("revision", "r", "", "Branch, tag or commit to install (git only)")
	installCmd.Flags().StringP("subpath", "p", "", "Directory inside the repository holding the agent (git only)")
	installCmd.Flags().Bool("plain", false, "Disable the interactive progress view")
	rootCmd.AddCommand(installCmd)
}
