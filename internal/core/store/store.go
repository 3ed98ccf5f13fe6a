// Package store manages the on-disk layout of installed agent versions.
//
// Layout under the agents root:
//
//	<id>/<ref>/     one directory per installed version
//	<id>/current    symlink to the active <ref>
//
// A version is built under a dot-prefixed sibling and renamed into place only
// once it is complete, and the current pointer is swapped by renaming a
// freshly created link over the old one, so readers never observe a
// half-written version through current.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/juju/utils/v4/symlink"

	"github.com/barysiuk/agentpkg/internal/core/manifest"
	"github.com/barysiuk/agentpkg/internal/logging"
)

// CurrentName is the name of the per-agent active version pointer.
const CurrentName = "current"

const (
	stagingPrefix = ".staging-"
	retiredPrefix = ".retired-"
	linkPrefix    = ".current-"

	lockRetryDelay = 50 * time.Millisecond
)

var (
	// ErrNotInstalled is returned when an agent has no directory in the store.
	ErrNotInstalled = errors.New("agent not installed")
	// ErrNotActivated is returned when an agent has no current pointer.
	ErrNotActivated = errors.New("agent installed but not activated")
)

// PrepareFunc runs against a fully copied version before it becomes visible
// under its final path. A non-nil error aborts the placement.
type PrepareFunc func(ctx context.Context, dir string) error

// Store maps (agent id, version ref) pairs to directories.
type Store struct {
	root    string
	lockDir string
	keys    *kmutex.Kmutex
	log     *logging.Logger
}

// New creates a Store rooted at agentsDir that keeps its lock files in lockDir.
func New(agentsDir, lockDir string, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{
		root:    agentsDir,
		lockDir: lockDir,
		keys:    kmutex.New(),
		log:     log,
	}
}

// Root returns the agents root directory.
func (s *Store) Root() string { return s.root }

// AgentDir returns the directory holding every version of an agent.
func (s *Store) AgentDir(id string) string { return filepath.Join(s.root, id) }

// VersionDir returns the final directory of one installed version.
func (s *Store) VersionDir(id, ref string) string { return filepath.Join(s.root, id, ref) }

// CurrentLink returns the path of the agent's current pointer.
func (s *Store) CurrentLink(id string) string { return filepath.Join(s.root, id, CurrentName) }

// Lock serializes work on one (id, ref) pair, both within this process and
// across processes sharing the same store. The returned func releases it.
func (s *Store) Lock(ctx context.Context, id, ref string) (func(), error) {
	if err := checkKey(id, ref); err != nil {
		return nil, err
	}
	key := id + "@" + ref
	s.keys.Lock(key)

	if err := os.MkdirAll(s.lockDir, 0o755); err != nil {
		s.keys.Unlock(key)
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(filepath.Join(s.lockDir, key+".lock"))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		s.keys.Unlock(key)
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("locking %s: %w", key, err)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("releasing lock file")
		}
		s.keys.Unlock(key)
	}, nil
}

// Place copies src into the version directory for (id, ref) and returns its
// path. Any previous directory for the same pair is replaced wholesale.
// prepare, if non-nil, runs on the staged copy before it is moved into place;
// when it fails nothing under the final path changes. Callers should hold
// Lock(id, ref).
func (s *Store) Place(ctx context.Context, id, ref, src string, prepare PrepareFunc) (string, error) {
	if err := checkKey(id, ref); err != nil {
		return "", err
	}
	agentDir := s.AgentDir(id)
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		return "", fmt.Errorf("creating agent directory: %w", err)
	}
	s.sweep(agentDir, ref)

	staging := filepath.Join(agentDir, stagingPrefix+ref+"-"+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	placed := false
	defer func() {
		if !placed {
			s.removeQuietly(staging)
		}
	}()

	if err := copyTree(src, staging); err != nil {
		return "", fmt.Errorf("copying %s: %w", src, err)
	}
	if !manifest.Exists(staging) {
		return "", fmt.Errorf("copying %s: %w", src, manifest.ErrNotFound)
	}
	if prepare != nil {
		if err := prepare(ctx, staging); err != nil {
			return "", err
		}
	}

	final := s.VersionDir(id, ref)
	retired := ""
	if _, err := os.Lstat(final); err == nil {
		retired = filepath.Join(agentDir, retiredPrefix+ref+"-"+uuid.NewString())
		if err := os.Rename(final, retired); err != nil {
			return "", fmt.Errorf("retiring previous version: %w", err)
		}
	}
	if err := os.Rename(staging, final); err != nil {
		if retired != "" {
			_ = os.Rename(retired, final)
		}
		return "", fmt.Errorf("moving version into place: %w", err)
	}
	placed = true

	if retired != "" {
		s.removeQuietly(retired)
	}
	return final, nil
}

// Activate points the agent's current link at ref. The swap is a rename of a
// new link over the old one, so current is never missing mid-swap.
func (s *Store) Activate(id, ref string) error {
	if err := checkKey(id, ref); err != nil {
		return err
	}
	target := s.VersionDir(id, ref)
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("version %s of %s: %w", ref, id, err)
	}
	if !info.IsDir() || !manifest.Exists(target) {
		return fmt.Errorf("version %s of %s has no manifest", ref, id)
	}

	tmp := filepath.Join(s.AgentDir(id), linkPrefix+uuid.NewString())
	if err := symlink.New(ref, tmp); err != nil {
		return fmt.Errorf("creating pointer: %w", err)
	}
	if err := os.Rename(tmp, s.CurrentLink(id)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("swapping pointer: %w", err)
	}
	return nil
}

// Current returns the version ref the agent's pointer designates.
func (s *Store) Current(id string) (string, error) {
	if err := checkSegment("agent id", id); err != nil {
		return "", err
	}
	target, err := os.Readlink(s.CurrentLink(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, statErr := os.Stat(s.AgentDir(id)); errors.Is(statErr, os.ErrNotExist) {
				return "", fmt.Errorf("%s: %w", id, ErrNotInstalled)
			}
			return "", fmt.Errorf("%s: %w", id, ErrNotActivated)
		}
		return "", fmt.Errorf("reading pointer: %w", err)
	}
	return filepath.Base(target), nil
}

// CurrentDir resolves the agent's pointer to an existing version directory.
func (s *Store) CurrentDir(id string) (string, error) {
	ref, err := s.Current(id)
	if err != nil {
		return "", err
	}
	dir := s.VersionDir(id, ref)
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("%s: %w", id, ErrNotActivated)
	}
	return dir, nil
}

// Versions lists the installed version refs of an agent, sorted.
func (s *Store) Versions(id string) ([]string, error) {
	if err := checkSegment("agent id", id); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.AgentDir(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotInstalled)
		}
		return nil, err
	}
	var refs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			refs = append(refs, e.Name())
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// Agents lists the ids of every agent with a directory in the store.
func (s *Store) Agents() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Remove deletes every version of an agent along with its pointer.
func (s *Store) Remove(id string) error {
	if err := checkSegment("agent id", id); err != nil {
		return err
	}
	dir := s.AgentDir(id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", id, ErrNotInstalled)
		}
		return err
	}
	// Drop the pointer first so readers stop resolving into the tree.
	if err := os.Remove(s.CurrentLink(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing pointer: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	return nil
}

// sweep removes leftovers of interrupted placements of ref.
func (s *Store) sweep(agentDir, ref string) {
	for _, prefix := range []string{stagingPrefix, retiredPrefix} {
		matches, _ := filepath.Glob(filepath.Join(agentDir, prefix+ref+"-*"))
		for _, m := range matches {
			s.log.Debug().Str("path", m).Msg("removing leftover from interrupted install")
			s.removeQuietly(m)
		}
	}
}

func (s *Store) removeQuietly(path string) {
	if err := os.RemoveAll(path); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("cleanup failed")
	}
}

func checkKey(id, ref string) error {
	if err := checkSegment("agent id", id); err != nil {
		return err
	}
	if ref == CurrentName {
		return fmt.Errorf("version ref %q is reserved", ref)
	}
	return checkSegment("version ref", ref)
}

// checkSegment rejects values that cannot be used as a single path element.
func checkSegment(what, v string) error {
	switch {
	case v == "":
		return fmt.Errorf("%s is empty", what)
	case strings.HasPrefix(v, "."):
		return fmt.Errorf("%s %q is reserved", what, v)
	case strings.ContainsAny(v, `/\`) || strings.Contains(v, ".."):
		return fmt.Errorf("%s %q is not a valid path element", what, v)
	}
	return nil
}
