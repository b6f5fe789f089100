package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockAndVerify(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeTestFile(t, configPath, "include: [extra.yaml]\n")
	writeTestFile(t, filepath.Join(dir, "extra.yaml"), "extensions:\n  group: locked\n")

	dry, err := Lock(configPath, true)
	require.NoError(t, err)
	assert.Len(t, dry.Files, 2)
	_, err = os.Stat(filepath.Join(dir, checksumsFilename))
	assert.True(t, os.IsNotExist(err), "dry run must not write")

	report, err := Lock(configPath, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, checksumsFilename)}, report.Manifests)

	info, err := os.Stat(filepath.Join(dir, checksumsFilename))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	manifest, err := LoadChecksums(dir)
	require.NoError(t, err)
	assert.Len(t, manifest.Hashes, 2)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "locked", cfg.Extensions.Group)

	writeTestFile(t, filepath.Join(dir, "extra.yaml"), "extensions:\n  group: tampered\n")
	_, err = Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config verification failed")
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestVerifyRejectsUnlistedFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeTestFile(t, configPath, "")
	_, err := Lock(configPath, false)
	require.NoError(t, err)

	writeTestFile(t, configPath, "include: [new.yaml]\n")
	writeTestFile(t, filepath.Join(dir, "new.yaml"), "")
	_, err = Load(configPath)
	require.Error(t, err)
}

func TestLoadChecksumsErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadChecksums(dir)
	assert.ErrorIs(t, err, os.ErrNotExist)

	writeTestFile(t, filepath.Join(dir, checksumsFilename), "version: 7\nhashes: {}\n")
	_, err = LoadChecksums(dir)
	assert.ErrorContains(t, err, "unsupported checksums version")
}
