package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/barysiuk/agentpkg/internal/core"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and change settings in config.json",
	Long: `Read and change settings stored in <home>/config.json.

Settings: ` + strings.Join(core.SettingKeys, ", ") + `, and
cloneURLOverrides.<url> to clone <url> from another location.
Extra environment for git and uv is read from <home>/toolchain.env.`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, err := configManager(cmd)
		if err != nil {
			return err
		}
		v, set, err := cm.Get(args[0])
		if err != nil {
			return err
		}
		if !set && v == "" {
			return fmt.Errorf("%s is not set", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, err := configManager(cmd)
		if err != nil {
			return err
		}
		if err := cm.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a setting to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, err := configManager(cmd)
		if err != nil {
			return err
		}
		if err := cm.Unset(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, err := configManager(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cm.ConfigPath())
		return nil
	},
}

// configManager skips Load so a broken config.json can still be repaired.
func configManager(cmd *cobra.Command) (*core.ConfigManager, error) {
	home, err := resolveHome(cmd)
	if err != nil {
		return nil, err
	}
	return core.NewConfigManager(home), nil
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configUnsetCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
