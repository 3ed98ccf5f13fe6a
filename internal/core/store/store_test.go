package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRef = "0123456789abcdef0123456789abcdef01234567"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	return New(filepath.Join(base, "agents"), filepath.Join(base, "locks"), nil)
}

// makeBundle writes a minimal agent bundle and returns its directory.
func makeBundle(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if _, ok := files["agent.json"]; !ok {
		files["agent.json"] = `{"id": "demo-agent", "name": "Demo"}`
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPlaceCopiesBundle(t *testing.T) {
	s := newTestStore(t)
	src := makeBundle(t, map[string]string{
		"main.py":       "print('hi')",
		"lib/util.py":   "x = 1",
		".git/HEAD":     "ref: refs/heads/main",
		"sub/.git/HEAD": "nested",
	})

	dir, err := s.Place(context.Background(), "demo-agent", testRef, src, nil)
	require.NoError(t, err)
	assert.Equal(t, s.VersionDir("demo-agent", testRef), dir)

	assert.FileExists(t, filepath.Join(dir, "main.py"))
	assert.FileExists(t, filepath.Join(dir, "lib", "util.py"))
	assert.NoDirExists(t, filepath.Join(dir, ".git"))
	assert.NoDirExists(t, filepath.Join(dir, "sub", ".git"))
	assert.Equal(t, []string{testRef}, listDir(t, s.AgentDir("demo-agent")))
}

func requireSymlinks(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation needs privileges on windows")
	}
}

func TestPlaceDereferencesSymlinks(t *testing.T) {
	requireSymlinks(t)
	s := newTestStore(t)
	src := t.TempDir()
	for name, content := range map[string]string{
		"meta/agent.yaml": "id: demo-agent\nname: Demo\n",
		"shared.py":       "X = 1\n",
		"lib/util.py":     "Y = 2\n",
	} {
		path := filepath.Join(src, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	require.NoError(t, os.Symlink(filepath.Join("meta", "agent.yaml"), filepath.Join(src, "agent.yaml")))
	require.NoError(t, os.Symlink("shared.py", filepath.Join(src, "alias.py")))
	require.NoError(t, os.Symlink("lib", filepath.Join(src, "vendor")))

	dir, err := s.Place(context.Background(), "demo-agent", testRef, src, nil)
	require.NoError(t, err)

	for name, want := range map[string]string{
		"agent.yaml":     "id: demo-agent\nname: Demo\n",
		"alias.py":       "X = 1\n",
		"vendor/util.py": "Y = 2\n",
	} {
		path := filepath.Join(dir, filepath.FromSlash(name))
		info, err := os.Lstat(path)
		require.NoError(t, err, name)
		assert.True(t, info.Mode().IsRegular(), "%s copied as a regular file", name)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(data), name)
	}
	require.NoError(t, s.Activate("demo-agent", testRef))
}

func TestPlaceRejectsSymlinkOutsideBundle(t *testing.T) {
	requireSymlinks(t)
	s := newTestStore(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "id_rsa"), []byte("secret"), 0o600))

	for name, target := range map[string]string{
		"file": filepath.Join(outside, "id_rsa"),
		"dir":  outside,
	} {
		t.Run(name, func(t *testing.T) {
			src := makeBundle(t, map[string]string{})
			require.NoError(t, os.Symlink(target, filepath.Join(src, "leak")))

			_, err := s.Place(context.Background(), "demo-agent", testRef, src, nil)
			require.ErrorIs(t, err, ErrLinkEscapes)
			assert.NoDirExists(t, s.VersionDir("demo-agent", testRef))
			assert.Empty(t, listDir(t, s.AgentDir("demo-agent")), "staging removed")
		})
	}
}

func TestPlaceRejectsSymlinkLoop(t *testing.T) {
	requireSymlinks(t)
	s := newTestStore(t)
	src := makeBundle(t, map[string]string{})
	require.NoError(t, os.Symlink(".", filepath.Join(src, "loop")))

	_, err := s.Place(context.Background(), "demo-agent", testRef, src, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many levels of symbolic links")
}

func TestPlaceRequiresManifestInCopy(t *testing.T) {
	s := newTestStore(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.py"), nil, 0o644))

	_, err := s.Place(context.Background(), "demo-agent", testRef, src, nil)
	require.Error(t, err)
	assert.NoDirExists(t, s.VersionDir("demo-agent", testRef))
}

func TestPlaceRebuildsFromScratch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := makeBundle(t, map[string]string{"old.txt": "stale"})
	_, err := s.Place(ctx, "demo-agent", testRef, first, nil)
	require.NoError(t, err)

	// Simulate provisioning debris left by the first install.
	require.NoError(t, os.WriteFile(filepath.Join(s.VersionDir("demo-agent", testRef), "debris"), nil, 0o644))

	second := makeBundle(t, map[string]string{"new.txt": "fresh"})
	dir, err := s.Place(ctx, "demo-agent", testRef, second, nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"agent.json", "new.txt"}, listDir(t, dir))
	assert.Equal(t, []string{testRef}, listDir(t, s.AgentDir("demo-agent")))
}

func TestPlacePrepareRunsBeforeVisible(t *testing.T) {
	s := newTestStore(t)
	src := makeBundle(t, map[string]string{})
	final := s.VersionDir("demo-agent", testRef)

	var sawDir string
	_, err := s.Place(context.Background(), "demo-agent", testRef, src, func(_ context.Context, dir string) error {
		sawDir = dir
		assert.NoDirExists(t, final)
		return os.WriteFile(filepath.Join(dir, ".venv-marker"), []byte("ok"), 0o644)
	})
	require.NoError(t, err)
	assert.NotEqual(t, final, sawDir)
	assert.FileExists(t, filepath.Join(final, ".venv-marker"))
}

func TestPlacePrepareFailureLeavesPreviousVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	good := makeBundle(t, map[string]string{"keep.txt": "v1"})
	_, err := s.Place(ctx, "demo-agent", testRef, good, nil)
	require.NoError(t, err)

	boom := errors.New("uv exploded")
	_, err = s.Place(ctx, "demo-agent", testRef, makeBundle(t, map[string]string{}), func(context.Context, string) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.FileExists(t, filepath.Join(s.VersionDir("demo-agent", testRef), "keep.txt"))
	assert.Equal(t, []string{testRef}, listDir(t, s.AgentDir("demo-agent")))
}

func TestPlaceSweepsInterruptedLeftovers(t *testing.T) {
	s := newTestStore(t)
	agentDir := s.AgentDir("demo-agent")
	require.NoError(t, os.MkdirAll(filepath.Join(agentDir, stagingPrefix+testRef+"-dead"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(agentDir, retiredPrefix+testRef+"-dead"), 0o755))

	_, err := s.Place(context.Background(), "demo-agent", testRef, makeBundle(t, map[string]string{}), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{testRef}, listDir(t, agentDir))
}

func TestActivateAndCurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Current("demo-agent")
	require.ErrorIs(t, err, ErrNotInstalled)

	_, err = s.Place(ctx, "demo-agent", testRef, makeBundle(t, map[string]string{}), nil)
	require.NoError(t, err)

	_, err = s.Current("demo-agent")
	require.ErrorIs(t, err, ErrNotActivated)

	require.NoError(t, s.Activate("demo-agent", testRef))
	ref, err := s.Current("demo-agent")
	require.NoError(t, err)
	assert.Equal(t, testRef, ref)

	fi, err := os.Lstat(s.CurrentLink("demo-agent"))
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&os.ModeSymlink)

	dir, err := s.CurrentDir("demo-agent")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "agent.json"))

	// Swapping to another version replaces the pointer without leftovers.
	other := strings.Repeat("f", 40)
	_, err = s.Place(ctx, "demo-agent", other, makeBundle(t, map[string]string{}), nil)
	require.NoError(t, err)
	require.NoError(t, s.Activate("demo-agent", other))

	ref, err = s.Current("demo-agent")
	require.NoError(t, err)
	assert.Equal(t, other, ref)
	assert.ElementsMatch(t, []string{testRef, other, CurrentName}, listDir(t, s.AgentDir("demo-agent")))
}

func TestActivateRefusesDirectoryWithoutManifest(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.VersionDir("demo-agent", testRef), 0o755))

	err := s.Activate("demo-agent", testRef)
	require.Error(t, err)
	_, statErr := os.Lstat(s.CurrentLink("demo-agent"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestActivateMissingVersion(t *testing.T) {
	s := newTestStore(t)
	require.Error(t, s.Activate("demo-agent", testRef))
}

func TestVersionsAgentsAndRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.Agents()
	require.NoError(t, err)
	assert.Empty(t, ids)

	other := strings.Repeat("a", 64)
	for _, ref := range []string{testRef, other} {
		_, err := s.Place(ctx, "demo-agent", ref, makeBundle(t, map[string]string{}), nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.Activate("demo-agent", other))

	refs, err := s.Versions("demo-agent")
	require.NoError(t, err)
	assert.Equal(t, []string{testRef, other}, refs)

	ids, err = s.Agents()
	require.NoError(t, err)
	assert.Equal(t, []string{"demo-agent"}, ids)

	require.NoError(t, s.Remove("demo-agent"))
	assert.NoDirExists(t, s.AgentDir("demo-agent"))
	require.ErrorIs(t, s.Remove("demo-agent"), ErrNotInstalled)

	_, err = s.Versions("demo-agent")
	require.ErrorIs(t, err, ErrNotInstalled)
}

func TestConcurrentIdenticalPlacementsSerialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	src := makeBundle(t, map[string]string{"main.py": "print('hi')"})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := s.Lock(ctx, "demo-agent", testRef)
			if err != nil {
				errs <- err
				return
			}
			defer release()
			if _, err := s.Place(ctx, "demo-agent", testRef, src, nil); err != nil {
				errs <- err
				return
			}
			errs <- s.Activate("demo-agent", testRef)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.ElementsMatch(t, []string{testRef, CurrentName}, listDir(t, s.AgentDir("demo-agent")))
	assert.ElementsMatch(t, []string{"agent.json", "main.py"}, listDir(t, s.VersionDir("demo-agent", testRef)))
}

func TestLockRejectsBadKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, tc := range []struct{ id, ref string }{
		{"", testRef},
		{"demo", ""},
		{"../evil", testRef},
		{"demo", CurrentName},
		{"demo", ".staging"},
		{"a/b", testRef},
	} {
		_, err := s.Lock(ctx, tc.id, tc.ref)
		assert.Error(t, err, "id=%q ref=%q", tc.id, tc.ref)
	}
}

func TestLockHonoursCancelledContext(t *testing.T) {
	s := newTestStore(t)

	// Hold the file lock through a separate store to mimic another process.
	other := New(s.root, s.lockDir, nil)
	release, err := other.Lock(context.Background(), "demo-agent", testRef)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Lock(ctx, "demo-agent", testRef)
	require.Error(t, err)
}
