package core

import (
	"errors"

	"github.com/barysiuk/agentpkg/internal/core/store"
)

// Uninstall removes every installed version of id, its current pointer and
// its install record.
func (in *Installer) Uninstall(id string) error {
	if err := in.store.Remove(id); err != nil {
		kind := KindIO
		if errors.Is(err, store.ErrNotInstalled) {
			kind = KindInvalidRequest
		}
		return newError(kind, "uninstall", id, err)
	}
	if err := RemoveRecord(in.layout.LockFilePath(), id); err != nil {
		in.log.Warn().Err(err).Str("agent", id).Msg("removing install record")
	}
	in.log.Info().Str("agent", id).Msg("agent uninstalled")
	return nil
}

// AgentInfo summarizes one installed agent for listings.
type AgentInfo struct {
	ID       string
	Current  string   // active version ref, empty when not activated
	Versions []string // installed version refs
	Record   *InstallRecord
}

// ListAgents reports every agent in the store along with its install record.
func (in *Installer) ListAgents() ([]AgentInfo, error) {
	ids, err := in.store.Agents()
	if err != nil {
		return nil, newError(KindIO, "list", in.layout.AgentsDir(), err)
	}
	lf, err := ReadLockFile(in.layout.LockFilePath())
	if err != nil {
		in.log.Warn().Err(err).Msg("reading install records")
	}

	infos := make([]AgentInfo, 0, len(ids))
	for _, id := range ids {
		info, err := in.describe(id, lf)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// Describe reports one installed agent.
func (in *Installer) Describe(id string) (*AgentInfo, error) {
	lf, err := ReadLockFile(in.layout.LockFilePath())
	if err != nil {
		in.log.Warn().Err(err).Msg("reading install records")
	}
	return in.describe(id, lf)
}

func (in *Installer) describe(id string, lf *LockFile) (*AgentInfo, error) {
	versions, err := in.store.Versions(id)
	if err != nil {
		kind := KindIO
		if errors.Is(err, store.ErrNotInstalled) {
			kind = KindInvalidRequest
		}
		return nil, newError(kind, "describe", id, err)
	}
	info := &AgentInfo{ID: id, Versions: versions}
	if ref, err := in.store.Current(id); err == nil {
		info.Current = ref
	}
	if rec := lf.FindRecord(id); rec != nil {
		r := *rec
		info.Record = &r
	}
	return info, nil
}
