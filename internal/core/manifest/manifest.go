// Package manifest reads and validates the agent manifest shipped at the
// root of every agent bundle. The manifest is the only source of an agent's
// identity.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// FileNames lists the accepted manifest file names in lookup order.
var FileNames = []string{"agent.json", "agent.yaml", "agent.yml"}

const defaultRequirements = "requirements.txt"

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,127}$`)

// RuntimeKind names the runtime environment an agent needs provisioned.
type RuntimeKind string

const (
	RuntimeNone   RuntimeKind = "none"
	RuntimePython RuntimeKind = "python"
)

// Runtime describes the environment the provisioner must prepare.
type Runtime struct {
	Type         RuntimeKind `json:"type" yaml:"type"`
	Python       string      `json:"python,omitempty" yaml:"python,omitempty"`             // Interpreter request passed to uv (e.g. "3.12")
	Requirements string      `json:"requirements,omitempty" yaml:"requirements,omitempty"` // Bundle-relative requirements file
}

// Manifest is the parsed agent manifest.
type Manifest struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Version     string  `json:"version,omitempty" yaml:"version,omitempty"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Author      string  `json:"author,omitempty" yaml:"author,omitempty"`
	Entry       string  `json:"entry,omitempty" yaml:"entry,omitempty"`
	Runtime     Runtime `json:"runtime,omitempty" yaml:"runtime,omitempty"`

	// File is the manifest file name the manifest was read from.
	File string `json:"-" yaml:"-"`
}

// NeedsEnvironment reports whether the manifest asks for a provisioned runtime.
func (m *Manifest) NeedsEnvironment() bool {
	return m.Runtime.Type != "" && m.Runtime.Type != RuntimeNone
}

// RequirementsFile returns the bundle-relative requirements path.
func (m *Manifest) RequirementsFile() string {
	if m.Runtime.Requirements != "" {
		return m.Runtime.Requirements
	}
	return defaultRequirements
}

// FieldError reports one invalid or missing manifest field.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationError is returned when a bundle has no usable manifest.
type ValidationError struct {
	Dir    string
	File   string
	Fields []FieldError
	Err    error // parse or read failure, if any
}

func (e *ValidationError) Error() string {
	where := e.Dir
	if e.File != "" {
		where = filepath.Join(e.Dir, e.File)
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid manifest %s: %v", where, e.Err)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("invalid manifest %s: %s", where, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ErrNotFound is wrapped by the ValidationError returned when a directory
// holds none of the accepted manifest files.
var ErrNotFound = errors.New("manifest not found")

// Exists reports whether dir holds any accepted manifest file.
func Exists(dir string) bool {
	for _, name := range FileNames {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}

// Load finds, parses and validates the manifest in dir.
func Load(dir string) (*Manifest, error) {
	for _, name := range FileNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, &ValidationError{Dir: dir, File: name, Err: err}
		}

		m, err := parse(name, data)
		if err != nil {
			return nil, &ValidationError{Dir: dir, File: name, Err: err}
		}
		m.File = name

		if fields := Validate(m, dir); len(fields) > 0 {
			return nil, &ValidationError{Dir: dir, File: name, Fields: fields}
		}
		return m, nil
	}
	return nil, &ValidationError{
		Dir: dir,
		Err: fmt.Errorf("%w (expected one of %s)", ErrNotFound, strings.Join(FileNames, ", ")),
	}
}

func parse(name string, data []byte) (*Manifest, error) {
	var m Manifest
	switch filepath.Ext(name) {
	case ".json":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
		if err := json.Unmarshal(std, &m); err != nil {
			return nil, fmt.Errorf("decoding JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	}
	return &m, nil
}

// Validate checks m against the bundle in dir and returns every problem found.
// An empty result means the manifest is valid.
func Validate(m *Manifest, dir string) []FieldError {
	var fields []FieldError

	m.ID = strings.TrimSpace(m.ID)
	switch {
	case m.ID == "":
		fields = append(fields, FieldError{"id", "is required"})
	case !idPattern.MatchString(m.ID) || strings.Contains(m.ID, ".."):
		fields = append(fields, FieldError{"id", fmt.Sprintf("%q must match %s", m.ID, idPattern)})
	}

	if strings.TrimSpace(m.Name) == "" {
		fields = append(fields, FieldError{"name", "is required"})
	}

	if m.Entry != "" {
		if reason := checkBundlePath(dir, m.Entry); reason != "" {
			fields = append(fields, FieldError{"entry", reason})
		}
	}

	switch m.Runtime.Type {
	case "", RuntimeNone:
	case RuntimePython:
		if m.Runtime.Requirements != "" {
			if reason := checkBundlePath(dir, m.Runtime.Requirements); reason != "" {
				fields = append(fields, FieldError{"runtime.requirements", reason})
			}
		}
	default:
		fields = append(fields, FieldError{"runtime.type", fmt.Sprintf("unsupported runtime %q", m.Runtime.Type)})
	}

	return fields
}

// checkBundlePath returns a reason when rel is not an existing path inside dir.
func checkBundlePath(dir, rel string) string {
	if !isLocalPath(rel) {
		return fmt.Sprintf("%q escapes the bundle", rel)
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
		return fmt.Sprintf("%q does not exist in the bundle", rel)
	}
	return ""
}

func isLocalPath(rel string) bool {
	return filepath.IsLocal(filepath.FromSlash(rel))
}
