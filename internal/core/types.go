// Package core provides the agent installation pipeline for agentpkg.
// It has zero UI dependencies and is independently testable.
package core

import "time"

// Config represents the agentpkg configuration stored at <home>/config.json.
type Config struct {
	Settings Settings `json:"settings"`
}

// Settings holds user preferences.
type Settings struct {
	UVPath            string            `json:"uvPath,omitempty"`       // uv binary (path or name in PATH)
	GitPath           string            `json:"gitPath,omitempty"`      // git binary (path or name in PATH)
	CloneTimeout      string            `json:"cloneTimeout,omitempty"` // Go duration, e.g. "60s"
	LogLevel          string            `json:"logLevel,omitempty"`
	CloneURLOverrides map[string]string `json:"cloneURLOverrides,omitempty"`
}

// SourceType indicates the kind of install source.
type SourceType string

const (
	SourceTypeLocal SourceType = "local"
	SourceTypeGit   SourceType = "git"
)

// InstallRequest describes one install call. Path is used for local
// archives; URL, Revision and SubPath for git repositories.
type InstallRequest struct {
	SourceType SourceType `json:"sourceType"`
	Path       string     `json:"path,omitempty"`
	URL        string     `json:"url,omitempty"`
	Revision   string     `json:"revision,omitempty"`
	SubPath    string     `json:"subPath,omitempty"`
}

// InstallResult is the outcome of a successful install.
type InstallResult struct {
	AgentID    string
	Name       string
	VersionRef string
	Dir        string // Version directory the current pointer designates
}

// LockFile represents agents.lock.json, the record of active installs.
type LockFile struct {
	LockVersion int             `json:"lockVersion"`
	Agents      []InstallRecord `json:"agents"`
}

// InstallRecord describes the source that produced an agent's active version.
type InstallRecord struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Version     string     `json:"version,omitempty"` // Manifest-declared version, informational
	VersionRef  string     `json:"versionRef"`
	SourceType  SourceType `json:"sourceType"`
	Source      string     `json:"source"` // Archive path or clone URL
	Revision    string     `json:"revision,omitempty"`
	SubPath     string     `json:"subPath,omitempty"`
	InstalledAt time.Time  `json:"installedAt"`
}

// Stage identifies a step of the install pipeline, reported to observers.
type Stage string

const (
	StageDigest    Stage = "digest"
	StageExtract   Stage = "extract"
	StageClone     Stage = "clone"
	StageValidate  Stage = "validate"
	StagePlace     Stage = "place"
	StageProvision Stage = "provision"
	StageActivate  Stage = "activate"
	StageDone      Stage = "done"
)
