package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	got, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", got)

	again, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestHashFileMissing(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIO))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInstallErrorFormatting(t *testing.T) {
	cause := errors.New("boom")
	assert.Equal(t, "extract /a.zip: boom", newError(KindExtract, "extract", "/a.zip", cause).Error())
	assert.Equal(t, "install: boom", newError(KindInvalidRequest, "install", "", cause).Error())
	assert.Equal(t, "activate /x", (&InstallError{Kind: KindActivation, Op: "activate", Path: "/x"}).Error())

	_, ok := KindOf(cause)
	assert.False(t, ok)
	assert.Equal(t, "subpath not found", KindSubpathNotFound.String())
}
