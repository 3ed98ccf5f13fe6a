package core

import (
	"fmt"
	"strings"
	"time"
)

// CloneErrorKind classifies why fetching an agent repository failed.
type CloneErrorKind int

const (
	// CloneErrUnknown is an unclassified failure.
	CloneErrUnknown CloneErrorKind = iota
	// CloneErrAuth means credentials were missing or rejected.
	CloneErrAuth
	// CloneErrRepoNotFound means the URL is wrong or the repository is private.
	CloneErrRepoNotFound
	// CloneErrRevisionNotFound means the branch, tag or commit does not exist.
	CloneErrRevisionNotFound
	// CloneErrNetwork means the host could not be reached.
	CloneErrNetwork
	// CloneErrSSHKey means the SSH key was rejected or not found.
	CloneErrSSHKey
	// CloneErrHostKey means SSH host key verification failed.
	CloneErrHostKey
	// CloneErrTimeout means the operation ran past the clone timeout.
	CloneErrTimeout
)

// String returns a human-readable label for the error kind.
func (k CloneErrorKind) String() string {
	switch k {
	case CloneErrAuth:
		return "authentication required"
	case CloneErrRepoNotFound:
		return "repository not found"
	case CloneErrRevisionNotFound:
		return "revision not found"
	case CloneErrNetwork:
		return "network error"
	case CloneErrSSHKey:
		return "ssh key error"
	case CloneErrHostKey:
		return "ssh host key error"
	case CloneErrTimeout:
		return "timeout"
	default:
		return "unknown error"
	}
}

// CloneError carries the raw git output of a failed fetch together with its
// classification and suggestions the CLI prints under the error.
type CloneError struct {
	Kind      CloneErrorKind
	Protocol  string // "https", "ssh" or "file"
	URL       string
	Revision  string
	Command   string // git invocation, for display
	RawOutput string
	Hints     []string
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("git failed (%s): %s", e.Kind, e.firstLine())
}

// firstLine returns the first meaningful line of git's output.
func (e *CloneError) firstLine() string {
	for _, line := range strings.Split(e.RawOutput, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Cloning into") && !strings.HasPrefix(line, "hint:") {
			return line
		}
	}
	return "no output"
}

// classifyCloneError builds a CloneError from git's combined output.
func classifyCloneError(url, revision, command, output string, timeout time.Duration) *CloneError {
	protocol := detectProtocol(url)
	kind := classifyOutput(output)
	return &CloneError{
		Kind:      kind,
		Protocol:  protocol,
		URL:       url,
		Revision:  revision,
		Command:   command,
		RawOutput: strings.TrimSpace(output),
		Hints:     hintsForError(kind, protocol, url, timeout),
	}
}

func detectProtocol(url string) string {
	switch {
	case strings.HasPrefix(url, "git@"), strings.HasPrefix(url, "ssh://"):
		return "ssh"
	case strings.HasPrefix(url, "https://"), strings.HasPrefix(url, "http://"):
		return "https"
	default:
		return "file"
	}
}

// classifyOutput pattern-matches git output. Order matters: the timeout
// marker is ours, and "not found" is broad enough to shadow network errors.
func classifyOutput(output string) CloneErrorKind {
	lower := strings.ToLower(output)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}

	switch {
	case has("timed out after", "signal: killed", "context deadline exceeded"):
		return CloneErrTimeout
	case has("permission denied (publickey)", "no such identity", "load key", "identity file"):
		return CloneErrSSHKey
	case has("host key verification failed", "known_hosts"):
		return CloneErrHostKey
	case has("could not read username", "could not read password", "invalid credentials",
		"authentication failed", "error: 401", "error: 403", "logon failed"):
		return CloneErrAuth
	case has("remote branch", "couldn't find remote ref", "not our ref", "did not match any",
		"no such remote ref", "unadvertised object"):
		return CloneErrRevisionNotFound
	case has("could not resolve host", "connection refused", "connection timed out",
		"network is unreachable", "no route to host", "name or service not known"):
		return CloneErrNetwork
	case has("repository not found", "does not appear to be a git repository",
		"project not found", "does not exist", "not found"):
		return CloneErrRepoNotFound
	default:
		return CloneErrUnknown
	}
}

func hintsForError(kind CloneErrorKind, protocol, url string, timeout time.Duration) []string {
	switch kind {
	case CloneErrAuth:
		hints := []string{
			"Configure a git credential helper, e.g. `git config --global credential.helper store`",
		}
		if alt := httpsToSSH(url); alt != "" {
			hints = append(hints, "Try SSH instead: "+alt)
		}
		return hints
	case CloneErrSSHKey:
		hints := []string{
			"Check that your SSH key is loaded: `ssh-add -l`",
		}
		if alt := sshToHTTPS(url); protocol == "ssh" && alt != "" {
			hints = append(hints, "Try HTTPS instead: "+alt)
		}
		return hints
	case CloneErrHostKey:
		return []string{
			"Connect to the host once with ssh and accept its key, or add it with `ssh-keyscan`",
		}
	case CloneErrRepoNotFound:
		return []string{
			"Verify the repository URL",
			"A private repository looks missing without credentials",
			"Map the URL to a mirror with settings.cloneURLOverrides in config.json",
		}
	case CloneErrRevisionNotFound:
		return []string{
			"Check the --revision value: a branch, a tag or a 7-40 character commit",
		}
	case CloneErrNetwork:
		return []string{
			"Check your network connection and the hostname in the URL",
		}
	case CloneErrTimeout:
		return []string{
			fmt.Sprintf("The operation did not finish within %s", timeout),
			"Raise settings.cloneTimeout in config.json for large repositories",
		}
	default:
		return []string{
			"Run the command above by hand to see the full git output",
		}
	}
}

// httpsToSSH rewrites a github.com or gitlab.com HTTPS URL to SSH form.
func httpsToSSH(url string) string {
	for _, host := range []string{"github.com", "gitlab.com"} {
		prefix := "https://" + host + "/"
		if path, ok := strings.CutPrefix(url, prefix); ok {
			return "git@" + host + ":" + trimGitSuffix(path) + ".git"
		}
	}
	return ""
}

// sshToHTTPS rewrites a git@github.com or git@gitlab.com URL to HTTPS form.
func sshToHTTPS(url string) string {
	rest, ok := strings.CutPrefix(url, "git@")
	if !ok {
		return ""
	}
	host, path, ok := strings.Cut(rest, ":")
	if !ok {
		return ""
	}
	switch host {
	case "github.com", "gitlab.com":
		return "https://" + host + "/" + path
	default:
		return ""
	}
}
