package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	homeDirName    = ".agentpkg"
	configFileName = "config.json"

	// HomeEnv overrides the default base directory.
	HomeEnv = "AGENTPKG_HOME"
	// LogLevelEnv overrides settings.logLevel.
	LogLevelEnv = "AGENTPKG_LOG_LEVEL"
	// UVEnv overrides settings.uvPath.
	UVEnv = "AGENTPKG_UV"

	defaultCloneTimeout = 60 * time.Second
)

// ResolveHome returns the base directory: $AGENTPKG_HOME or ~/.agentpkg.
func ResolveHome() (string, error) {
	if base := os.Getenv(HomeEnv); base != "" {
		return base, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, homeDirName), nil
}

// ConfigManager handles reading and writing the agentpkg configuration.
type ConfigManager struct {
	baseDir string
	mu      sync.RWMutex
}

// NewConfigManager creates a ConfigManager for the given base directory.
func NewConfigManager(baseDir string) *ConfigManager {
	return &ConfigManager{baseDir: baseDir}
}

// BaseDir returns the base directory path.
func (cm *ConfigManager) BaseDir() string {
	return cm.baseDir
}

// ConfigPath returns the full path to the config file.
func (cm *ConfigManager) ConfigPath() string {
	return filepath.Join(cm.baseDir, configFileName)
}

// Load reads the config from disk and applies environment overrides.
// Returns the default config if the file doesn't exist.
func (cm *ConfigManager) Load() (*Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	cfg := defaultConfig()
	data, err := os.ReadFile(cm.ConfigPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	if _, err := cfg.Settings.CloneTimeoutDuration(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to disk, creating the directory if needed.
func (cm *ConfigManager) Save(cfg *Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return writeConfigFile(cm.ConfigPath(), data)
}

// CloneTimeoutDuration parses CloneTimeout, falling back to 60s when unset.
func (s Settings) CloneTimeoutDuration() (time.Duration, error) {
	if s.CloneTimeout == "" {
		return defaultCloneTimeout, nil
	}
	d, err := time.ParseDuration(s.CloneTimeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid cloneTimeout %q", s.CloneTimeout)
	}
	return d, nil
}

// OverrideCloneURL returns the configured replacement for url, or url itself.
// Keys match with or without a trailing ".git".
func (s Settings) OverrideCloneURL(url string) string {
	if len(s.CloneURLOverrides) == 0 {
		return url
	}
	if v, ok := s.CloneURLOverrides[url]; ok {
		return v
	}
	trimmed := trimGitSuffix(url)
	for _, key := range []string{trimmed, trimmed + ".git"} {
		if v, ok := s.CloneURLOverrides[key]; ok {
			return v
		}
	}
	return url
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(LogLevelEnv); v != "" {
		cfg.Settings.LogLevel = v
	}
	if v := os.Getenv(UVEnv); v != "" {
		cfg.Settings.UVPath = v
	}
}

func defaultConfig() *Config {
	return &Config{
		Settings: Settings{
			UVPath:       "uv",
			GitPath:      "git",
			CloneTimeout: defaultCloneTimeout.String(),
			LogLevel:     "info",
		},
	}
}
