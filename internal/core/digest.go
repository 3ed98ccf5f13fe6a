package core

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// HashFile returns the lowercase hex SHA-256 of the file at path. The file is
// streamed, never read into memory whole.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", newError(KindIO, "open", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", newError(KindDigest, "hash", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
