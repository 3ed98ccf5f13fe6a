package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"

	"github.com/barysiuk/agentpkg/internal/core/manifest"
	"github.com/barysiuk/agentpkg/internal/core/provision"
	"github.com/barysiuk/agentpkg/internal/core/store"
	"github.com/barysiuk/agentpkg/internal/logging"
)

const stagingLockRetry = 50 * time.Millisecond

// Progress is one stage transition of an install operation.
type Progress struct {
	Op      string // operation id
	Stage   Stage
	AgentID string // empty until the manifest is read
	Ref     string // empty until the version ref is known
}

// Observer receives stage transitions. It is called synchronously from the
// installing goroutine and must not block for long.
type Observer func(Progress)

// Options configures an Installer.
type Options struct {
	Settings    Settings
	Provisioner provision.Provisioner // defaults to uv from Settings.UVPath
	Log         *logging.Logger
	Observer    Observer
}

// Installer turns archives and git repositories into activated agent
// versions under a base directory.
type Installer struct {
	layout   Layout
	settings Settings
	store    *store.Store
	prov     provision.Provisioner
	git      *gitCloner
	staging  *kmutex.Kmutex
	observer Observer
	log      *logging.Logger
	now      func() time.Time
}

// NewInstaller creates an Installer rooted at baseDir.
func NewInstaller(baseDir string, opts Options) (*Installer, error) {
	log := opts.Log
	if log == nil {
		log = logging.Nop()
	}
	timeout, err := opts.Settings.CloneTimeoutDuration()
	if err != nil {
		return nil, err
	}
	gitBin := opts.Settings.GitPath
	if gitBin == "" {
		gitBin = "git"
	}
	env := toolchainEnv(ToolchainEnvPath(baseDir))
	prov := opts.Provisioner
	if prov == nil {
		uvBin := opts.Settings.UVPath
		if uvBin == "" {
			uvBin = "uv"
		}
		uv := provision.NewUV(uvBin, log.Sub("provision"))
		uv.Env = env
		prov = uv
	}

	layout := Layout{Base: baseDir}
	return &Installer{
		layout:   layout,
		settings: opts.Settings,
		store:    store.New(layout.AgentsDir(), layout.LocksDir(), log.Sub("store")),
		prov:     prov,
		git:      &gitCloner{bin: gitBin, timeout: timeout, env: env, log: log.Sub("git")},
		staging:  kmutex.New(),
		observer: opts.Observer,
		log:      log.Sub("installer"),
		now:      time.Now,
	}, nil
}

// Layout returns the directory layout the installer writes to.
func (in *Installer) Layout() Layout { return in.layout }

// Store returns the version store backing the installer.
func (in *Installer) Store() *store.Store { return in.store }

// InstallFromZip installs the archive at path and returns the agent id.
func (in *Installer) InstallFromZip(ctx context.Context, path string) (string, error) {
	res, err := in.Run(ctx, InstallRequest{SourceType: SourceTypeLocal, Path: path})
	if err != nil {
		return "", err
	}
	return res.AgentID, nil
}

// InstallFromGit installs revision of the repository at url, optionally from
// the subPath directory inside it, and returns the agent id.
func (in *Installer) InstallFromGit(ctx context.Context, url, revision, subPath string) (string, error) {
	res, err := in.Run(ctx, InstallRequest{SourceType: SourceTypeGit, URL: url, Revision: revision, SubPath: subPath})
	if err != nil {
		return "", err
	}
	return res.AgentID, nil
}

// Install dispatches req on its source type and returns the agent id.
func (in *Installer) Install(ctx context.Context, req InstallRequest) (string, error) {
	res, err := in.Run(ctx, req)
	if err != nil {
		return "", err
	}
	return res.AgentID, nil
}

// Run performs req and reports the activated version.
func (in *Installer) Run(ctx context.Context, req InstallRequest) (*InstallResult, error) {
	op := uuid.NewString()
	log := in.log.With("op", op)

	switch req.SourceType {
	case SourceTypeLocal:
		if req.Path == "" {
			return nil, newError(KindInvalidRequest, "install", "", errors.New("path is required for local installs"))
		}
		return in.runZip(ctx, op, log, req)
	case SourceTypeGit:
		if req.URL == "" {
			return nil, newError(KindInvalidRequest, "install", "", errors.New("url is required for git installs"))
		}
		return in.runGit(ctx, op, log, req)
	default:
		return nil, newError(KindUnsupportedSource, "install", "", fmt.Errorf("unsupported source type: %s", req.SourceType))
	}
}

func (in *Installer) runZip(ctx context.Context, op string, log *logging.Logger, req InstallRequest) (*InstallResult, error) {
	path, err := filepath.Abs(req.Path)
	if err != nil {
		return nil, newError(KindIO, "resolve", req.Path, err)
	}

	in.emit(Progress{Op: op, Stage: StageDigest})
	digest, err := HashFile(path)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("ref", digest).Str("archive", path).Msg("archive hashed")

	staging := in.layout.ExtractDir(digest)
	release, err := in.lockStaging(ctx, staging)
	if err != nil {
		return nil, err
	}
	defer release()
	defer in.cleanup(log, staging)

	in.emit(Progress{Op: op, Stage: StageExtract, Ref: digest})
	if err := os.RemoveAll(staging); err != nil {
		return nil, newError(KindIO, "clear", staging, err)
	}
	if err := os.MkdirAll(in.layout.TmpDir(), 0o755); err != nil {
		return nil, newError(KindIO, "mkdir", in.layout.TmpDir(), err)
	}
	if err := extractZip(path, staging); err != nil {
		return nil, newError(KindExtract, "extract", path, err)
	}

	rec := InstallRecord{SourceType: SourceTypeLocal, Source: path}
	return in.deploy(ctx, op, log, bundleRoot(staging), digest, rec)
}

func (in *Installer) runGit(ctx context.Context, op string, log *logging.Logger, req InstallRequest) (*InstallResult, error) {
	url := in.settings.OverrideCloneURL(req.URL)
	if url != req.URL {
		log.Debug().Str("url", req.URL).Str("override", url).Msg("clone URL overridden")
	}

	staging := in.layout.CloneDir(url)
	release, err := in.lockStaging(ctx, staging)
	if err != nil {
		return nil, err
	}
	defer release()
	defer in.cleanup(log, staging)

	in.emit(Progress{Op: op, Stage: StageClone})
	if err := os.RemoveAll(staging); err != nil {
		return nil, newError(KindIO, "clear", staging, err)
	}
	if err := os.MkdirAll(in.layout.GitTmpDir(), 0o755); err != nil {
		return nil, newError(KindIO, "mkdir", in.layout.GitTmpDir(), err)
	}
	commit, err := in.git.clone(ctx, url, req.Revision, staging)
	if err != nil {
		return nil, newError(KindClone, "clone", url, err)
	}
	log.Debug().Str("ref", commit).Str("url", url).Str("revision", req.Revision).Msg("repository fetched")

	root, err := resolveSubPath(staging, req.SubPath)
	if err != nil {
		return nil, err
	}

	rec := InstallRecord{
		SourceType: SourceTypeGit,
		Source:     req.URL,
		Revision:   req.Revision,
		SubPath:    req.SubPath,
	}
	return in.deploy(ctx, op, log, root, commit, rec)
}

// deploy validates the staged bundle at root, places it as version ref,
// provisions it and activates it.
func (in *Installer) deploy(ctx context.Context, op string, log *logging.Logger, root, ref string, rec InstallRecord) (*InstallResult, error) {
	in.emit(Progress{Op: op, Stage: StageValidate, Ref: ref})
	m, err := manifest.Load(root)
	if err != nil {
		return nil, newError(KindManifest, "validate", rec.Source, err)
	}
	log = log.With("agent", m.ID, "ref", ref)

	unlock, err := in.store.Lock(ctx, m.ID, ref)
	if err != nil {
		return nil, newError(KindLock, "lock", m.ID+"@"+ref, err)
	}
	defer unlock()

	in.emit(Progress{Op: op, Stage: StagePlace, AgentID: m.ID, Ref: ref})
	var provErr error
	prepare := func(ctx context.Context, dir string) error {
		in.emit(Progress{Op: op, Stage: StageProvision, AgentID: m.ID, Ref: ref})
		provErr = in.prov.Provision(ctx, dir, m)
		return provErr
	}
	dir, err := in.store.Place(ctx, m.ID, ref, root, prepare)
	if err != nil {
		if provErr != nil {
			return nil, newError(KindProvision, "provision", m.ID, provErr)
		}
		return nil, newError(KindIO, "place", in.store.VersionDir(m.ID, ref), err)
	}
	log.Debug().Str("dir", dir).Msg("version placed")

	in.emit(Progress{Op: op, Stage: StageActivate, AgentID: m.ID, Ref: ref})
	if err := in.store.Activate(m.ID, ref); err != nil {
		return nil, newError(KindActivation, "activate", in.store.CurrentLink(m.ID), err)
	}

	rec.ID = m.ID
	rec.Name = m.Name
	rec.Version = m.Version
	rec.VersionRef = ref
	rec.InstalledAt = in.now().UTC()
	if err := UpsertRecord(in.layout.LockFilePath(), rec); err != nil {
		log.Warn().Err(err).Msg("recording install")
	}

	log.Info().Str("name", m.Name).Msg("agent installed")
	in.emit(Progress{Op: op, Stage: StageDone, AgentID: m.ID, Ref: ref})
	return &InstallResult{AgentID: m.ID, Name: m.Name, VersionRef: ref, Dir: dir}, nil
}

// lockStaging serializes use of a staging directory within this process and
// across processes sharing the base directory.
func (in *Installer) lockStaging(ctx context.Context, dir string) (func(), error) {
	in.staging.Lock(dir)
	if err := os.MkdirAll(in.layout.LocksDir(), 0o755); err != nil {
		in.staging.Unlock(dir)
		return nil, newError(KindIO, "mkdir", in.layout.LocksDir(), err)
	}
	rel, err := filepath.Rel(in.layout.TmpDir(), dir)
	if err != nil {
		rel = filepath.Base(dir)
	}
	name := "tmp-" + filepath.ToSlash(rel)
	fl := flock.New(filepath.Join(in.layout.LocksDir(), sanitizeLockName(name)+".lock"))
	locked, err := fl.TryLockContext(ctx, stagingLockRetry)
	if err != nil || !locked {
		in.staging.Unlock(dir)
		if err == nil {
			err = ctx.Err()
		}
		return nil, newError(KindLock, "lock", dir, err)
	}
	return func() {
		_ = fl.Unlock()
		in.staging.Unlock(dir)
	}, nil
}

func (in *Installer) cleanup(log *logging.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("removing staging directory")
	}
}

func (in *Installer) emit(p Progress) {
	if in.observer != nil {
		in.observer(p)
	}
}

func sanitizeLockName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}
