package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const overridesKeyPrefix = "cloneURLOverrides."

// SettingKeys lists the scalar settings addressable by Get, Set and Unset.
// Clone URL overrides are addressed as "cloneURLOverrides.<url>".
var SettingKeys = []string{"uvPath", "gitPath", "cloneTimeout", "logLevel"}

// Get returns the stored value of a setting and whether the config file sets
// it. Unset scalar settings report their default.
func (cm *ConfigManager) Get(key string) (string, bool, error) {
	path, err := settingPath(key)
	if err != nil {
		return "", false, err
	}

	cm.mu.RLock()
	content, err := readConfigFile(cm.ConfigPath())
	cm.mu.RUnlock()
	if err != nil {
		return "", false, fmt.Errorf("reading config: %w", err)
	}

	if res := gjson.Get(content, path); res.Exists() {
		return res.String(), true, nil
	}
	return defaultSetting(key), false, nil
}

// Set stores value for key, leaving the rest of the file untouched.
func (cm *ConfigManager) Set(key, value string) error {
	path, err := settingPath(key)
	if err != nil {
		return err
	}
	if err := validateSetting(key, value); err != nil {
		return err
	}
	return cm.edit(func(content string) (string, error) {
		return sjson.Set(content, path, value)
	})
}

// Unset removes key from the config file. Removing an absent key is a no-op.
func (cm *ConfigManager) Unset(key string) error {
	path, err := settingPath(key)
	if err != nil {
		return err
	}
	return cm.edit(func(content string) (string, error) {
		if !gjson.Get(content, path).Exists() {
			return content, nil
		}
		return sjson.Delete(content, path)
	})
}

func (cm *ConfigManager) edit(fn func(content string) (string, error)) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	content, err := readConfigFile(cm.ConfigPath())
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		content = "{}"
	}
	if !gjson.Valid(content) {
		return fmt.Errorf("parsing config: %s is not valid JSON", cm.ConfigPath())
	}

	updated, err := fn(content)
	if err != nil {
		return fmt.Errorf("updating config: %w", err)
	}
	if updated == content {
		return nil
	}
	return writeConfigFile(cm.ConfigPath(), []byte(updated))
}

// settingPath maps a setting key to its gjson/sjson path in config.json.
func settingPath(key string) (string, error) {
	if url, ok := strings.CutPrefix(key, overridesKeyPrefix); ok {
		if url == "" {
			return "", fmt.Errorf("unknown setting %q: missing URL", key)
		}
		return "settings.cloneURLOverrides." + escapeJSONKey(url), nil
	}
	for _, k := range SettingKeys {
		if k == key {
			return "settings." + key, nil
		}
	}
	return "", fmt.Errorf("unknown setting %q (valid: %s, %s<url>)",
		key, strings.Join(SettingKeys, ", "), overridesKeyPrefix)
}

func validateSetting(key, value string) error {
	switch key {
	case "cloneTimeout":
		_, err := Settings{CloneTimeout: value}.CloneTimeoutDuration()
		return err
	case "logLevel":
		switch strings.ToLower(value) {
		case "trace", "debug", "info", "warn", "warning", "error", "silent", "off":
			return nil
		}
		return fmt.Errorf("invalid logLevel %q", value)
	case "uvPath", "gitPath":
		if value == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}
	return nil
}

func defaultSetting(key string) string {
	s := defaultConfig().Settings
	switch key {
	case "uvPath":
		return s.UVPath
	case "gitPath":
		return s.GitPath
	case "cloneTimeout":
		return s.CloneTimeout
	case "logLevel":
		return s.LogLevel
	}
	return ""
}

// escapeJSONKey escapes every path metacharacter in a single gjson/sjson key.
func escapeJSONKey(key string) string {
	var b strings.Builder
	for _, c := range key {
		switch c {
		case '.', '*', '?', '#', '|', '@', '!', '\\', ':', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func readConfigFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// writeConfigFile writes data atomically, creating parent directories.
func writeConfigFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}
