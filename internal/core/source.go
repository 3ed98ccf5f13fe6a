package core

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ownerRepoPattern matches the "owner/repo" GitHub shorthand.
var ownerRepoPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+$`)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// ParseSource turns a command-line source argument into an install request.
//
// Supported forms:
//   - path to an existing file               → local archive
//   - path to an existing directory          → git repository on disk
//   - "git@host:owner/repo.git", "ssh://..." → git
//   - "https://host/owner/repo[.git]"        → git
//   - "https://github.com/o/r/tree/ref/sub"  → git with revision and sub-path
//   - "file:///path/to/repo"                 → git
//   - "owner/repo"                           → GitHub repository
func ParseSource(input string) (*InstallRequest, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, newError(KindInvalidRequest, "parse source", "", errors.New("empty source"))
	}

	if path := expandPath(input); pathExists(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, newError(KindIO, "resolve", path, err)
		}
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			return &InstallRequest{SourceType: SourceTypeGit, URL: abs}, nil
		}
		return &InstallRequest{SourceType: SourceTypeLocal, Path: abs}, nil
	}

	switch {
	case strings.HasPrefix(input, "git@"), strings.HasPrefix(input, "ssh://"), strings.HasPrefix(input, "file://"):
		return &InstallRequest{SourceType: SourceTypeGit, URL: input}, nil
	case strings.HasPrefix(input, "https://"), strings.HasPrefix(input, "http://"):
		return parseHTTPSource(input)
	case ownerRepoPattern.MatchString(input):
		return &InstallRequest{
			SourceType: SourceTypeGit,
			URL:        "https://github.com/" + trimGitSuffix(input) + ".git",
		}, nil
	}
	return nil, newError(KindInvalidRequest, "parse source", input,
		errors.New("not an existing file and not a recognized git URL"))
}

// parseHTTPSource accepts a clone URL or a browser URL of the form
// /owner/repo/tree/<ref>/<subpath>.
func parseHTTPSource(input string) (*InstallRequest, error) {
	u, err := url.Parse(input)
	if err != nil {
		return nil, newError(KindInvalidRequest, "parse source", input, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 || parts[2] != "tree" {
		return &InstallRequest{SourceType: SourceTypeGit, URL: input}, nil
	}

	req := &InstallRequest{
		SourceType: SourceTypeGit,
		URL:        fmt.Sprintf("%s://%s/%s/%s.git", u.Scheme, u.Host, parts[0], trimGitSuffix(parts[1])),
		Revision:   parts[3],
	}
	if len(parts) > 4 {
		req.SubPath = strings.Join(parts[4:], "/")
	}
	return req, nil
}

// repoDirName derives the staging directory name for a clone URL: the last
// path element without ".git", restricted to [A-Za-z0-9._-].
func repoDirName(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if i := strings.LastIndexAny(trimmed, "/:"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	name := unsafeNameChars.ReplaceAllString(trimGitSuffix(trimmed), "_")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "repo"
	}
	return name
}

// resolveSubPath returns the directory sub names inside root. sub must be a
// relative path that stays within root and exists as a directory.
func resolveSubPath(root, sub string) (string, error) {
	sub = strings.TrimSpace(sub)
	if sub == "" || sub == "." {
		return root, nil
	}
	clean := filepath.Clean(filepath.FromSlash(sub))
	if filepath.IsAbs(clean) || !filepath.IsLocal(clean) {
		return "", newError(KindInvalidRequest, "subpath", sub, errors.New("must be a relative path inside the repository"))
	}
	dir := filepath.Join(root, clean)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", newError(KindSubpathNotFound, "subpath", sub, errors.New("no such directory in repository"))
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", newError(KindIO, "subpath", root, err)
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", newError(KindIO, "subpath", dir, err)
	}
	rel, err := filepath.Rel(realRoot, realDir)
	if err != nil || !filepath.IsLocal(rel) {
		return "", newError(KindInvalidRequest, "subpath", sub, errors.New("resolves outside the repository"))
	}
	return dir, nil
}

func trimGitSuffix(s string) string {
	return strings.TrimSuffix(s, ".git")
}

func expandPath(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
