package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/mattjoyce/extinit/internal/integrity"
	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

// SharedObject resolves "path/to/ext.so:Symbol" references with the Go plugin
// package. Relative paths are taken from the publishing distribution's Dir.
type SharedObject struct {
	// Open defaults to plugin.Open. Tests replace it.
	Open func(path string) (Lookuper, error)
}

// Lookuper is the subset of *plugin.Plugin used for symbol lookup.
type Lookuper interface {
	Lookup(symName string) (plugin.Symbol, error)
}

// Resolve implements Resolver.
func (s SharedObject) Resolve(ctx context.Context, ep entrypoint.EntryPoint) (Func, error) {
	module := ep.Module()
	if !strings.HasSuffix(module, ".so") {
		return nil, ErrUnhandled
	}
	attr := ep.Attr()
	if attr == "" {
		return nil, &SymbolError{Value: ep.Value, Reason: "shared object reference needs a symbol name"}
	}

	path, err := modulePath(ep)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{Value: ep.Value}
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := insideDist(ep, path); err != nil {
		return nil, err
	}
	if err := verifyDeclared(ep, path); err != nil {
		return nil, err
	}

	open := s.Open
	if open == nil {
		open = func(p string) (Lookuper, error) { return plugin.Open(p) }
	}
	lib, err := open(path)
	if err != nil {
		return nil, &SymbolError{Value: ep.Value, Reason: "failed to open shared object", Err: err}
	}
	sym, err := lib.Lookup(attr)
	if err != nil {
		return nil, &SymbolError{Value: ep.Value, Reason: fmt.Sprintf("shared object does not export %q", attr), Err: err}
	}
	return adapt(ctx, ep.Value, sym)
}

// modulePath resolves the module part of ep against its distribution. Only
// host registrations without a distribution may name an absolute path.
func modulePath(ep entrypoint.EntryPoint) (string, error) {
	module := ep.Module()
	if filepath.IsAbs(module) {
		if ep.Dist != nil {
			return "", &SymbolError{Value: ep.Value, Reason: "module path must be relative to the distribution"}
		}
		return filepath.Clean(module), nil
	}
	if ep.Dist == nil || ep.Dist.Dir == "" {
		return "", &NotFoundError{Value: ep.Value}
	}
	if strings.Contains(module, "..") {
		return "", &SymbolError{Value: ep.Value, Reason: "module path contains path traversal"}
	}
	return filepath.Join(ep.Dist.Dir, module), nil
}

// insideDist rejects a distribution module whose real path, after symlinks,
// leaves the distribution directory.
func insideDist(ep entrypoint.EntryPoint, path string) error {
	if ep.Dist == nil {
		return nil
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	dir, err := filepath.EvalSymlinks(ep.Dist.Dir)
	if err != nil {
		return fmt.Errorf("resolve distribution dir %s: %w", ep.Dist.Dir, err)
	}
	if !strings.HasPrefix(resolved, dir+string(os.PathSeparator)) {
		return &SymbolError{Value: ep.Value, Reason: fmt.Sprintf("module %s is outside distribution directory %s", resolved, dir)}
	}
	return nil
}

// verifyDeclared checks the BLAKE3 digest declared by the distribution for the
// module file, if any.
func verifyDeclared(ep entrypoint.EntryPoint, path string) error {
	if ep.Dist == nil || len(ep.Dist.Checksums) == 0 {
		return nil
	}
	expected, ok := ep.Dist.Checksums[ep.Module()]
	if !ok {
		return nil
	}
	if err := integrity.VerifyFileHash(path, expected); err != nil {
		return &IntegrityError{Path: path, Err: err}
	}
	return nil
}
