package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxLinkDepth bounds how many symlinked directories a copy may descend through.
const maxLinkDepth = 16

// ErrLinkEscapes is wrapped when a bundle symlink resolves outside the bundle.
var ErrLinkEscapes = errors.New("symlink points outside the bundle")

// skippedDirs are acquisition artifacts that never belong to an agent payload.
var skippedDirs = map[string]bool{
	".git": true,
}

// copyTree copies the contents of src into the existing directory dst.
// Symlinks are replaced by the content they resolve to, which must lie
// inside src.
func copyTree(src, dst string) error {
	root, err := filepath.EvalSymlinks(src)
	if err != nil {
		return err
	}
	return copyDir(root, root, dst, 0)
}

func copyDir(root, src, dst string, depth int) error {
	if depth > maxLinkDepth {
		return fmt.Errorf("%s: too many levels of symbolic links", src)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if skippedDirs[d.Name()] && (d.IsDir() || d.Type()&fs.ModeSymlink != 0) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		dstPath := filepath.Join(dst, rel)
		if d.Type()&fs.ModeSymlink != 0 {
			return copyLink(root, path, dstPath, depth)
		}
		if d.IsDir() {
			return os.MkdirAll(dstPath, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, dstPath)
	})
}

// copyLink copies what the symlink at path resolves to.
func copyLink(root, path, dst string, depth int) error {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	if !within(root, target) {
		return fmt.Errorf("%s: %w", path, ErrLinkEscapes)
	}
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	switch {
	case info.IsDir():
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		return copyDir(root, target, dst, depth+1)
	case info.Mode().IsRegular():
		return copyFile(target, dst)
	}
	return nil
}

// within reports whether path is root or lies under it. Both must be resolved.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// copyFile copies a single regular file, keeping its permission bits.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	info, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return err
	}
	return dstFile.Close()
}
