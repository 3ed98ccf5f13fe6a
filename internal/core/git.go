package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/barysiuk/agentpkg/internal/logging"
)

// commitPattern matches revisions treated as commit ids rather than refs.
var commitPattern = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)

// isCommitRevision reports whether revision names a commit directly.
func isCommitRevision(revision string) bool {
	return commitPattern.MatchString(revision)
}

// gitCloner fetches a single revision of a repository with the git binary.
type gitCloner struct {
	bin     string
	timeout time.Duration
	env     []string
	log     *logging.Logger
}

// clone fetches revision of url into dest, which must not exist, and returns
// the resolved commit. An empty revision means the remote's default branch.
func (g *gitCloner) clone(ctx context.Context, url, revision, dest string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var err error
	if isCommitRevision(revision) {
		err = g.fetchCommit(ctx, url, revision, dest)
	} else {
		args := []string{"clone", "--depth", "1"}
		if revision != "" {
			args = append(args, "--branch", revision)
		}
		args = append(args, "--", url, dest)
		err = g.run(ctx, url, revision, "", args...)
	}
	if err != nil {
		return "", err
	}

	out, err := g.output(ctx, dest, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// fetchCommit checks out one commit without its history: init, fetch the
// object at depth 1, check out FETCH_HEAD. Servers refuse abbreviated ids in
// a fetch, so those fall back to a full clone followed by checkout.
func (g *gitCloner) fetchCommit(ctx context.Context, url, commit, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if err := g.run(ctx, url, commit, "", "init", "--quiet", dest); err != nil {
		return err
	}
	if err := g.run(ctx, url, commit, dest, "remote", "add", "origin", url); err != nil {
		return err
	}

	fetchErr := g.run(ctx, url, commit, dest, "fetch", "--depth", "1", "origin", commit)
	if fetchErr == nil {
		return g.run(ctx, url, commit, dest, "checkout", "--quiet", "FETCH_HEAD")
	}
	if len(commit) == 40 || ctx.Err() != nil {
		return fetchErr
	}

	g.log.Debug().Str("url", url).Str("revision", commit).Msg("abbreviated commit, fetching full history")
	if err := g.run(ctx, url, commit, dest, "fetch", "origin"); err != nil {
		return err
	}
	return g.run(ctx, url, commit, dest, "checkout", "--quiet", commit)
}

// run executes git and turns a failure into a *CloneError.
func (g *gitCloner) run(ctx context.Context, url, revision, dir string, args ...string) error {
	cmd := g.command(ctx, dir, args...)
	g.log.Trace().Str("cmd", cmd.String()).Msg("git")
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	output := string(out)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		output += fmt.Sprintf("\ncommand timed out after %s", g.timeout)
	} else if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(strings.TrimSpace(output)) == 0 {
		output = err.Error()
	}
	return classifyCloneError(url, revision, FormatCommand(url, revision), output, g.timeout)
}

func (g *gitCloner) output(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := g.command(ctx, dir, args...).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}

func (g *gitCloner) command(ctx context.Context, dir string, args ...string) *exec.Cmd {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, g.bin, args...)
	env := g.env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env[:len(env):len(env)], "GIT_TERMINAL_PROMPT=0")
	return cmd
}

// FormatCommand renders the git invocation used for url and revision.
func FormatCommand(url, revision string) string {
	if isCommitRevision(revision) {
		return fmt.Sprintf("git fetch --depth 1 %s %s", url, revision)
	}
	args := []string{"git", "clone", "--depth", "1"}
	if revision != "" {
		args = append(args, "--branch", revision)
	}
	args = append(args, url)
	return strings.Join(args, " ")
}
