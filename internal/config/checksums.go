package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/extinit/internal/integrity"
)

const checksumsFilename = ".checksums"

// ChecksumManifest is the on-disk .checksums format: file basename to BLAKE3 digest.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// LockedFile is one file recorded by Lock.
type LockedFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// LockReport describes the manifests written by Lock.
type LockReport struct {
	Manifests []string     `json:"manifests"`
	Files     []LockedFile `json:"files"`
}

// Lock hashes every file in the include tree of configPath and writes one
// .checksums manifest per directory. With dryRun nothing is written.
func Lock(configPath string, dryRun bool) (*LockReport, error) {
	files, err := DiscoverAllConfigFiles(configPath)
	if err != nil {
		return nil, err
	}

	report := &LockReport{}
	byDir := make(map[string]*ChecksumManifest)
	var dirs []string
	now := time.Now().UTC().Format(time.RFC3339)

	for _, path := range files {
		hash, err := integrity.ComputeBlake3Hash(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", path, err)
		}
		dir := filepath.Dir(path)
		m, ok := byDir[dir]
		if !ok {
			m = &ChecksumManifest{Version: 1, GeneratedAt: now, Hashes: make(map[string]string)}
			byDir[dir] = m
			dirs = append(dirs, dir)
		}
		m.Hashes[filepath.Base(path)] = hash
		report.Files = append(report.Files, LockedFile{Path: path, Hash: hash})
	}

	for _, dir := range dirs {
		target := filepath.Join(dir, checksumsFilename)
		report.Manifests = append(report.Manifests, target)
		if dryRun {
			continue
		}
		data, err := yaml.Marshal(byDir[dir])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal checksums: %w", err)
		}
		// Restrictive permissions: the file holds expected hashes.
		if err := os.WriteFile(target, data, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write checksums: %w", err)
		}
	}
	return report, nil
}

// LoadChecksums reads the .checksums file from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, checksumsFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'extinit config lock'): %w", err)
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// verifyAllConfigHashes checks each file against the .checksums manifest in
// its directory. Directories without a manifest are not verified.
func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: extinit config lock --config %s", basename, dir, path)
			}

			if err := integrity.VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: extinit config lock", path, err)
			}
		}
	}
	return nil
}
