package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/barysiuk/agentpkg/internal/core"
	"github.com/barysiuk/agentpkg/internal/logging"
)

// deps holds shared dependencies for CLI commands.
type deps struct {
	home   string
	config *core.ConfigManager
	cfg    *core.Config
	log    *logging.Logger
}

// newDeps resolves the base directory, loads configuration and builds the
// logger. Called lazily by commands that need them.
func newDeps(cmd *cobra.Command) (*deps, error) {
	home, err := resolveHome(cmd)
	if err != nil {
		return nil, err
	}

	config := core.NewConfigManager(home)
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Settings.LogLevel
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		level = flag
	}

	return &deps{
		home:   home,
		config: config,
		cfg:    cfg,
		log:    logging.New(nil, level),
	}, nil
}

// resolveHome returns --home when set, else the default base directory.
func resolveHome(cmd *cobra.Command) (string, error) {
	if home, _ := cmd.Flags().GetString("home"); home != "" {
		return home, nil
	}
	return core.ResolveHome()
}

// installer builds an Installer for the configured base directory.
func (d *deps) installer(observer core.Observer) (*core.Installer, error) {
	return core.NewInstaller(d.home, core.Options{
		Settings: d.cfg.Settings,
		Log:      d.log,
		Observer: observer,
	})
}

// interactive reports whether stdout is a terminal.
func interactive() bool {
	return isTerminal(os.Stdout.Fd())
}
