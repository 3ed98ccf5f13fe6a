// Package provision prepares the runtime environment an installed agent
// version declares in its manifest.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/barysiuk/agentpkg/internal/core/manifest"
	"github.com/barysiuk/agentpkg/internal/logging"
)

// VenvDir is the bundle-relative location of a provisioned Python environment.
const VenvDir = ".venv"

// ErrToolchainMissing is wrapped when the provisioning toolchain cannot be found.
var ErrToolchainMissing = errors.New("provisioning toolchain not found")

// Provisioner sets up the runtime environment inside a version directory.
type Provisioner interface {
	Provision(ctx context.Context, dir string, m *manifest.Manifest) error
}

// Func adapts a plain function to the Provisioner interface.
type Func func(ctx context.Context, dir string, m *manifest.Manifest) error

// Provision implements Provisioner.
func (f Func) Provision(ctx context.Context, dir string, m *manifest.Manifest) error {
	return f(ctx, dir, m)
}

// UV provisions Python agents with the uv toolchain.
type UV struct {
	// Toolchain is the uv binary: an absolute path or a name looked up in PATH.
	Toolchain string
	// Env is the subprocess environment. Nil means the process environment.
	Env []string
	Log *logging.Logger
}

// NewUV creates a UV provisioner for the given toolchain location.
func NewUV(toolchain string, log *logging.Logger) *UV {
	if log == nil {
		log = logging.Nop()
	}
	return &UV{Toolchain: toolchain, Log: log}
}

// Provision creates a relocatable virtual environment in dir and installs the
// agent's requirements into it. Manifests without a runtime are a no-op.
// The environment must be relocatable because the directory is provisioned
// under a staging name and renamed afterwards.
func (u *UV) Provision(ctx context.Context, dir string, m *manifest.Manifest) error {
	if !m.NeedsEnvironment() {
		return nil
	}
	bin, err := u.resolve()
	if err != nil {
		return err
	}

	venv := filepath.Join(dir, VenvDir)
	args := []string{"venv", "--relocatable"}
	if m.Runtime.Python != "" {
		args = append(args, "--python", m.Runtime.Python)
	}
	args = append(args, venv)
	if err := u.run(ctx, dir, bin, args...); err != nil {
		return err
	}

	reqs := filepath.Join(dir, filepath.FromSlash(m.RequirementsFile()))
	if _, err := os.Stat(reqs); err != nil {
		if errors.Is(err, os.ErrNotExist) && m.Runtime.Requirements == "" {
			u.Log.Debug().Str("dir", dir).Msg("no requirements file, skipping dependency install")
			return nil
		}
		return fmt.Errorf("checking requirements: %w", err)
	}
	return u.run(ctx, dir, bin, "pip", "install", "--python", venv, "-r", reqs)
}

func (u *UV) resolve() (string, error) {
	name := u.Toolchain
	if name == "" {
		name = "uv"
	}
	if filepath.IsAbs(name) {
		info, err := os.Stat(name)
		if err != nil || info.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrToolchainMissing, name)
		}
		return name, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolchainMissing, name)
	}
	return path, nil
}

func (u *UV) run(ctx context.Context, dir, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	env := u.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env[:len(env):len(env)], "UV_NO_PROGRESS=1")

	u.Log.Debug().Str("cmd", bin+" "+strings.Join(args, " ")).Msg("running toolchain")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("uv %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
