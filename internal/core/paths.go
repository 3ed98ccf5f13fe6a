package core

import "path/filepath"

// Layout names the directories under an agentpkg base directory.
type Layout struct {
	Base string
}

// AgentsDir holds one directory per installed agent.
func (l Layout) AgentsDir() string { return filepath.Join(l.Base, "agents") }

// TmpDir holds extraction staging directories.
func (l Layout) TmpDir() string { return filepath.Join(l.Base, "tmp") }

// GitTmpDir holds clone staging directories.
func (l Layout) GitTmpDir() string { return filepath.Join(l.Base, "tmp", "git") }

// LocksDir holds the cross-process lock files.
func (l Layout) LocksDir() string { return filepath.Join(l.Base, "locks") }

// LockFilePath is the install record file.
func (l Layout) LockFilePath() string { return filepath.Join(l.Base, lockFileName) }

// ExtractDir is the staging directory for an archive with the given digest.
func (l Layout) ExtractDir(digest string) string {
	return filepath.Join(l.TmpDir(), digest+extractedSuffix)
}

// CloneDir is the staging directory for a clone of rawURL.
func (l Layout) CloneDir(rawURL string) string {
	return filepath.Join(l.GitTmpDir(), repoDirName(rawURL))
}
