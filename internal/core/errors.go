package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an install failure.
type ErrorKind int

const (
	KindIO ErrorKind = iota
	KindDigest
	KindExtract
	KindClone
	KindSubpathNotFound
	KindManifest
	KindActivation
	KindProvision
	KindUnsupportedSource
	KindInvalidRequest
	KindLock
)

// String returns a short label for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindDigest:
		return "digest"
	case KindExtract:
		return "extract"
	case KindClone:
		return "clone"
	case KindSubpathNotFound:
		return "subpath not found"
	case KindManifest:
		return "manifest"
	case KindActivation:
		return "activation"
	case KindProvision:
		return "provision"
	case KindUnsupportedSource:
		return "unsupported source"
	case KindInvalidRequest:
		return "invalid request"
	case KindLock:
		return "lock"
	default:
		return "unknown"
	}
}

// InstallError is returned by every Installer entry point.
type InstallError struct {
	Kind ErrorKind
	Op   string // e.g. "extract", "clone", "activate"
	Path string // path or URL involved, may be empty
	Err  error
}

func (e *InstallError) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s %s", e.Op, e.Path)
	default:
		return e.Op
	}
}

func (e *InstallError) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *InstallError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ie *InstallError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries an *InstallError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func newError(kind ErrorKind, op, path string, err error) *InstallError {
	return &InstallError{Kind: kind, Op: op, Path: path, Err: err}
}
