package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigManagerDefaults(t *testing.T) {
	t.Setenv(LogLevelEnv, "")
	t.Setenv(UVEnv, "")
	cm := NewConfigManager(t.TempDir())

	cfg, err := cm.Load()
	require.NoError(t, err)
	assert.Equal(t, "uv", cfg.Settings.UVPath)
	assert.Equal(t, "git", cfg.Settings.GitPath)
	assert.Equal(t, "info", cfg.Settings.LogLevel)

	d, err := cfg.Settings.CloneTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, d)
}

func TestConfigManagerSaveAndLoad(t *testing.T) {
	t.Setenv(LogLevelEnv, "")
	t.Setenv(UVEnv, "")
	dir := filepath.Join(t.TempDir(), "nested")
	cm := NewConfigManager(dir)

	cfg := &Config{Settings: Settings{
		UVPath:            "/opt/uv",
		GitPath:           "/usr/bin/git",
		CloneTimeout:      "2m",
		LogLevel:          "debug",
		CloneURLOverrides: map[string]string{"https://github.com/acme/agent": "https://mirror.local/agent.git"},
	}}
	require.NoError(t, cm.Save(cfg))

	_, err := os.Stat(cm.ConfigPath())
	require.NoError(t, err)
	_, err = os.Stat(cm.ConfigPath() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file renamed away")

	loaded, err := cm.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Settings, loaded.Settings)
}

func TestConfigManagerPartialFileKeepsDefaults(t *testing.T) {
	t.Setenv(LogLevelEnv, "")
	t.Setenv(UVEnv, "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"settings":{"logLevel":"warn"}}`), 0o644))

	cfg, err := NewConfigManager(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Settings.LogLevel)
	assert.Equal(t, "uv", cfg.Settings.UVPath)
}

func TestConfigManagerEnvOverrides(t *testing.T) {
	t.Setenv(LogLevelEnv, "trace")
	t.Setenv(UVEnv, "/custom/uv")

	cfg, err := NewConfigManager(t.TempDir()).Load()
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.Settings.LogLevel)
	assert.Equal(t, "/custom/uv", cfg.Settings.UVPath)
}

func TestConfigManagerRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	_, err := NewConfigManager(dir).Load()
	assert.ErrorContains(t, err, "parsing config")

	require.NoError(t, os.WriteFile(path, []byte(`{"settings":{"cloneTimeout":"soon"}}`), 0o644))
	_, err = NewConfigManager(dir).Load()
	assert.ErrorContains(t, err, "invalid cloneTimeout")
}

func TestResolveHome(t *testing.T) {
	t.Setenv(HomeEnv, "/srv/agentpkg")
	got, err := ResolveHome()
	require.NoError(t, err)
	assert.Equal(t, "/srv/agentpkg", got)

	t.Setenv(HomeEnv, "")
	t.Setenv("HOME", "/home/tester")
	got, err = ResolveHome()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".agentpkg"), got)
}

func TestOverrideCloneURL(t *testing.T) {
	s := Settings{CloneURLOverrides: map[string]string{
		"https://github.com/acme/agent": "https://mirror.local/agent.git",
	}}
	assert.Equal(t, "https://mirror.local/agent.git", s.OverrideCloneURL("https://github.com/acme/agent"))
	assert.Equal(t, "https://mirror.local/agent.git", s.OverrideCloneURL("https://github.com/acme/agent.git"))
	assert.Equal(t, "https://github.com/acme/other.git", s.OverrideCloneURL("https://github.com/acme/other.git"))
	assert.Equal(t, "x", Settings{}.OverrideCloneURL("x"))
}
