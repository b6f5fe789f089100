package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NetworkFilesystemError reports a catalog path on a filesystem where SQLite
// file locking is unreliable.
type NetworkFilesystemError struct {
	Path   string
	FSType string
}

func (e *NetworkFilesystemError) Error() string {
	return fmt.Sprintf("catalog %q is on network filesystem %s; keep catalog.path on local disk", e.Path, e.FSType)
}

var remoteFSTypes = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

// fsTypeOf is swapped out in tests.
var fsTypeOf = filesystemType

// CheckLocalFilesystem returns the filesystem type backing path, or a
// *NetworkFilesystemError when the catalog would live on a remote mount.
// Paths that do not exist yet are judged by their nearest existing parent.
func CheckLocalFilesystem(path string) (string, error) {
	if path == "" {
		return "", errors.New("catalog path is empty")
	}
	dir, err := existingAncestor(path)
	if err != nil {
		return "", err
	}
	fsType, err := fsTypeOf(dir)
	if err != nil {
		return "", fmt.Errorf("detect filesystem for %s: %w", dir, err)
	}
	if remoteFSTypes[strings.ToLower(strings.TrimSpace(fsType))] {
		return fsType, &NetworkFilesystemError{Path: path, FSType: fsType}
	}
	return fsType, nil
}

func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing parent for %s", path)
		}
		p = parent
	}
}
