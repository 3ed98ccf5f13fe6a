package core

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// envFileName holds extra variables for the git and uv subprocesses, such as
// UV_INDEX_URL or GIT_SSH_COMMAND.
const envFileName = "toolchain.env"

// ToolchainEnvPath returns the toolchain environment file under base.
func ToolchainEnvPath(base string) string {
	return filepath.Join(base, envFileName)
}

// toolchainEnv returns the environment for toolchain subprocesses: the
// process environment plus every variable from the file at path that the
// process does not already set. Process values win.
func toolchainEnv(path string) []string {
	env := os.Environ()
	fileEnv := parseEnvFile(path)
	if len(fileEnv) == 0 {
		return env
	}

	keys := make([]string, 0, len(fileEnv))
	for k := range fileEnv {
		if _, set := os.LookupEnv(k); !set {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+fileEnv[k])
	}
	return env
}

// parseEnvFile parses a .env style file. A missing or unreadable file yields
// nil. Supports:
//   - KEY=VALUE
//   - KEY="VALUE" and KEY='VALUE' (outer quotes stripped)
//   - export KEY=VALUE
//   - # comments and blank lines
func parseEnvFile(path string) map[string]string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	env := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if len(val) >= 2 {
			if (val[0] == '"' && val[len(val)-1] == '"') ||
				(val[0] == '\'' && val[len(val)-1] == '\'') {
				val = val[1 : len(val)-1]
			}
		}
		if key != "" {
			env[key] = val
		}
	}
	return env
}
