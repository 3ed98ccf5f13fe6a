package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
)

const (
	lockFileName       = "agents.lock.json"
	currentLockVersion = 1
)

// ReadLockFile reads the install records at path.
// Returns nil, nil if the file does not exist.
func ReadLockFile(path string) (*LockFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock file: %w", err)
	}

	var lf LockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing lock file: %w", err)
	}
	return &lf, nil
}

// WriteLockFile writes lf to path atomically with agents sorted by id.
func WriteLockFile(path string, lf *LockFile) error {
	sort.Slice(lf.Agents, func(i, j int) bool {
		return lf.Agents[i].ID < lf.Agents[j].ID
	})
	if lf.LockVersion == 0 {
		lf.LockVersion = currentLockVersion
	}

	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling lock file: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock file directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing lock file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving lock file: %w", err)
	}
	return nil
}

// FindRecord returns the record for id, or nil.
func (lf *LockFile) FindRecord(id string) *InstallRecord {
	if lf == nil {
		return nil
	}
	for i := range lf.Agents {
		if lf.Agents[i].ID == id {
			return &lf.Agents[i]
		}
	}
	return nil
}

// UpsertRecord replaces the record with the same id or appends it.
func UpsertRecord(path string, rec InstallRecord) error {
	return updateLockFile(path, func(lf *LockFile) {
		for i := range lf.Agents {
			if lf.Agents[i].ID == rec.ID {
				lf.Agents[i] = rec
				return
			}
		}
		lf.Agents = append(lf.Agents, rec)
	})
}

// RemoveRecord drops the record for id. No-op if absent.
func RemoveRecord(path, id string) error {
	return updateLockFile(path, func(lf *LockFile) {
		kept := lf.Agents[:0]
		for _, r := range lf.Agents {
			if r.ID != id {
				kept = append(kept, r)
			}
		}
		lf.Agents = kept
	})
}

// updateLockFile runs a read-modify-write under a file lock next to path.
func updateLockFile(path string, mutate func(*LockFile)) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock file directory: %w", err)
	}
	fl := flock.New(path + ".flock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	defer func() { _ = fl.Unlock() }()

	lf, err := ReadLockFile(path)
	if err != nil {
		return err
	}
	if lf == nil {
		lf = &LockFile{LockVersion: currentLockVersion, Agents: []InstallRecord{}}
	}
	mutate(lf)
	return WriteLockFile(path, lf)
}
