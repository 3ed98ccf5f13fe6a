package core

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/barysiuk/agentpkg/internal/core/manifest"
)

// Extraction limits for agent archives.
const (
	maxArchiveFiles            = 4096
	maxArchiveFileBytes  int64 = 64 << 20
	maxArchiveTotalBytes int64 = 512 << 20
)

const (
	extractedSuffix       = "_extracted"
	extractedFileMode     = 0o644
	extractedDirMode      = 0o755
	executableExtractMode = 0o755
)

// errArchiveLimit is wrapped by every limit violation.
var errArchiveLimit = errors.New("archive exceeds limits")

// zipEntry is a validated archive member and its destination.
type zipEntry struct {
	file   *zip.File
	target string
}

// extractZip unpacks the archive at path into dest. Every entry is validated
// before anything is written, so a rejected archive leaves dest untouched.
func extractZip(path, dest string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = r.Close() }()

	entries, err := planZip(r.File, dest)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dest, extractedDirMode); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	var total int64
	for _, e := range entries {
		if e.file.FileInfo().IsDir() {
			if err := os.MkdirAll(e.target, extractedDirMode); err != nil {
				return err
			}
			continue
		}
		n, err := writeZipFile(e.file, e.target)
		if err != nil {
			return fmt.Errorf("extracting %s: %w", e.file.Name, err)
		}
		total += n
		if total > maxArchiveTotalBytes {
			return fmt.Errorf("%w: more than %d bytes uncompressed", errArchiveLimit, maxArchiveTotalBytes)
		}
	}
	return nil
}

// planZip maps every member to a path under dest and checks the declared
// sizes against the limits.
func planZip(files []*zip.File, dest string) ([]zipEntry, error) {
	var (
		entries []zipEntry
		count   int
		total   uint64
	)
	for _, f := range files {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return nil, err
		}
		mode := f.Mode()
		if mode&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("symlink entry not allowed: %s", f.Name)
		}
		if !mode.IsDir() && !mode.IsRegular() {
			return nil, fmt.Errorf("unsupported entry type: %s", f.Name)
		}
		if !mode.IsDir() {
			count++
			if count > maxArchiveFiles {
				return nil, fmt.Errorf("%w: more than %d files", errArchiveLimit, maxArchiveFiles)
			}
			if f.UncompressedSize64 > uint64(maxArchiveFileBytes) {
				return nil, fmt.Errorf("%w: %s is larger than %d bytes", errArchiveLimit, f.Name, maxArchiveFileBytes)
			}
			total += f.UncompressedSize64
			if total > uint64(maxArchiveTotalBytes) {
				return nil, fmt.Errorf("%w: more than %d bytes uncompressed", errArchiveLimit, maxArchiveTotalBytes)
			}
		}
		entries = append(entries, zipEntry{file: f, target: target})
	}
	return entries, nil
}

// writeZipFile writes one member, enforcing the per-file limit on the bytes
// actually read rather than the header's claim.
func writeZipFile(f *zip.File, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), extractedDirMode); err != nil {
		return 0, err
	}
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	perm := os.FileMode(extractedFileMode)
	if f.Mode()&0o111 != 0 {
		perm = executableExtractMode
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxArchiveFileBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if n > maxArchiveFileBytes {
		return n, fmt.Errorf("%w: larger than %d bytes", errArchiveLimit, maxArchiveFileBytes)
	}
	return n, nil
}

// safeJoin resolves an archive member name under base, rejecting absolute
// names and names that climb out of base.
func safeJoin(base, name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("invalid archive path: %q", name)
	}
	if strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, `\`) || filepath.IsAbs(trimmed) || filepath.VolumeName(trimmed) != "" {
		return "", fmt.Errorf("absolute archive path: %s", name)
	}
	clean := filepath.Clean(filepath.FromSlash(trimmed))
	if clean == "." {
		return base, nil
	}
	target := filepath.Join(base, clean)
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive path escapes destination: %s", name)
	}
	return target, nil
}

// bundleRoot returns dir, or its only subdirectory when dir has no manifest
// and the subdirectory does ("repo-main/" style archives).
func bundleRoot(dir string) string {
	if manifest.Exists(dir) {
		return dir
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	sub := filepath.Join(dir, entries[0].Name())
	if manifest.Exists(sub) {
		return sub
	}
	return dir
}
