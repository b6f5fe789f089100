package plugin

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/extinit/internal/integrity"
	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

const manifestFilename = "manifest.yaml"

// Registry holds discovered distributions in discovery order. It answers
// group queries only; callers filter by name.
type Registry struct {
	mu    sync.RWMutex
	order []*Distribution
	byKey map[string]*Distribution
}

// NewRegistry creates an empty distribution registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[string]*Distribution),
	}
}

// Get retrieves a distribution by name.
func (r *Registry) Get(name string) (*Distribution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byKey[name]
	return d, ok
}

// All returns all registered distributions in discovery order.
func (r *Registry) All() []*Distribution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Distribution(nil), r.order...)
}

// Add registers a distribution in the registry.
func (r *Registry) Add(dist *Distribution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[dist.Name]; exists {
		return fmt.Errorf("distribution %q already registered", dist.Name)
	}
	r.byKey[dist.Name] = dist
	r.order = append(r.order, dist)
	return nil
}

// EntryPoints implements entrypoint.Provider. Entries come back distribution
// by distribution in discovery order.
func (r *Registry) EntryPoints(ctx context.Context, group string) ([]entrypoint.EntryPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []entrypoint.EntryPoint
	for _, d := range r.All() {
		out = append(out, d.EntryPoints(group)...)
	}
	return out, nil
}

// Discover scans a single root for distributions with manifest.yaml and validates them.
// Invalid distributions are logged but not fatal.
func Discover(root string, logger func(level, msg string, args ...any)) (*Registry, error) {
	return DiscoverMany([]string{root}, logger)
}

// DiscoverMany scans multiple plugin roots for manifest.yaml files.
// Roots are processed in input order; duplicate distribution names keep the first discovered.
func DiscoverMany(roots []string, logger func(level, msg string, args ...any)) (*Registry, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one plugin root is required")
	}

	absRoots := make([]string, 0, len(roots))
	seenRoots := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve plugin root %q: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("plugin root does not exist: %s", absRoot)
			}
			return nil, fmt.Errorf("failed to stat plugin root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("plugin root is not a directory: %s", absRoot)
		}
		if _, ok := seenRoots[absRoot]; ok {
			continue
		}
		seenRoots[absRoot] = struct{}{}
		absRoots = append(absRoots, absRoot)
	}
	if len(absRoots) == 0 {
		return nil, fmt.Errorf("at least one plugin root is required")
	}

	registry := NewRegistry()
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			distPath := filepath.Dir(path)
			dist, err := loadDistribution(distPath, root)
			if err != nil {
				logger("warn", "failed to load distribution", "root", root, "path", distPath, "error", err.Error())
				return nil
			}

			if err := registry.Add(dist); err != nil {
				if existing, ok := registry.Get(dist.Name); ok {
					logger(
						"warn",
						"duplicate distribution ignored (keeping first discovered)",
						"dist", dist.Name,
						"ignored_path", dist.Path,
						"kept_path", existing.Path,
					)
				}
				return nil
			}

			logger("info", "loaded distribution", "dist", dist.Name, "path", dist.Path, "version", dist.Version, "groups", strings.Join(dist.GroupNames(), ","))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin root %s: %w", root, err)
		}
	}

	return registry, nil
}

// loadDistribution reads and validates a single distribution.
func loadDistribution(distPath, root string) (*Distribution, error) {
	data, err := os.ReadFile(filepath.Join(distPath, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	if err := validateTrustInRoots(distPath, &manifest, []string{root}); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	return &Distribution{
		Name:        manifest.Name,
		Version:     manifest.Version,
		Description: manifest.Description,
		Path:        distPath,
		Root:        root,
		Groups:      manifest.EntryPoints,
		Checksums:   manifest.Checksums,
	}, nil
}

// validateManifest checks required manifest fields.
func validateManifest(m *Manifest) error {
	if strings.TrimSpace(m.ManifestSpec) == "" {
		return fmt.Errorf("manifest_spec is required")
	}
	if m.ManifestSpec != SupportedManifestSpec {
		return fmt.Errorf("unsupported manifest_spec %q (supported: %q)", m.ManifestSpec, SupportedManifestSpec)
	}
	if m.ManifestVersion == 0 {
		return fmt.Errorf("manifest_version is required")
	}
	if m.ManifestVersion != SupportedManifestVersion {
		return fmt.Errorf("unsupported manifest_version %d (supported: %d)", m.ManifestVersion, SupportedManifestVersion)
	}

	if m.Name == "" {
		return fmt.Errorf("name is required")
	}

	for _, g := range m.EntryPoints {
		if g.Name == "" {
			return fmt.Errorf("entry point group name is required")
		}
		seen := make(map[string]struct{}, len(g.Entries))
		for _, e := range g.Entries {
			if e.Name == "" {
				return fmt.Errorf("group %q: entry name is required", g.Name)
			}
			if e.Value == "" {
				return fmt.Errorf("group %q: entry %q has no value", g.Name, e.Name)
			}
			if _, dup := seen[e.Name]; dup {
				return fmt.Errorf("group %q: entry %q declared twice", g.Name, e.Name)
			}
			seen[e.Name] = struct{}{}

			ep := entrypoint.EntryPoint{Value: e.Value}
			if strings.Contains(ep.Module(), "..") {
				return fmt.Errorf("entry %q contains path traversal: %s", e.Name, e.Value)
			}
			if filepath.IsAbs(ep.Module()) {
				return fmt.Errorf("entry %q must name a module relative to the distribution: %s", e.Name, e.Value)
			}
		}
	}

	for file, sum := range m.Checksums {
		if strings.Contains(file, "..") || filepath.IsAbs(file) {
			return fmt.Errorf("checksum path must be relative to the distribution: %s", file)
		}
		digest := integrity.Normalize(sum)
		if _, err := hex.DecodeString(digest); err != nil || len(digest) != 64 {
			return fmt.Errorf("checksum for %s is not a BLAKE3 hex digest", file)
		}
	}

	return nil
}

// validateTrustInRoots enforces that file-backed modules resolve inside both
// an approved root and the distribution directory, and that the distribution
// directory is not world-writable. Modules that name no file are left to the
// in-process resolvers.
func validateTrustInRoots(distPath string, m *Manifest, roots []string) error {
	if len(roots) == 0 {
		return fmt.Errorf("no plugin roots configured")
	}

	resolvedDist, err := filepath.EvalSymlinks(distPath)
	if err != nil {
		return fmt.Errorf("failed to resolve distribution path symlink: %w", err)
	}

	info, err := os.Stat(resolvedDist)
	if err != nil {
		return fmt.Errorf("distribution directory not found: %w", err)
	}
	if info.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("distribution directory is world-writable: %s", resolvedDist)
	}

	resolvedRoots := make([]string, 0, len(roots))
	for _, root := range roots {
		r, err := filepath.EvalSymlinks(root)
		if err != nil {
			return fmt.Errorf("failed to resolve plugin root symlink %s: %w", root, err)
		}
		resolvedRoots = append(resolvedRoots, r)
	}

	for _, g := range m.EntryPoints {
		for _, e := range g.Entries {
			module := entrypoint.EntryPoint{Value: e.Value}.Module()
			candidate := filepath.Join(distPath, filepath.FromSlash(module))
			if _, err := os.Lstat(candidate); err != nil {
				continue
			}
			resolved, err := filepath.EvalSymlinks(candidate)
			if err != nil {
				return fmt.Errorf("failed to resolve module symlink: %w", err)
			}

			inApprovedRoot := false
			for _, r := range resolvedRoots {
				if strings.HasPrefix(resolved, r+string(os.PathSeparator)) {
					inApprovedRoot = true
					break
				}
			}
			if !inApprovedRoot {
				return fmt.Errorf("module %s is not under any configured plugin root", resolved)
			}
			if !strings.HasPrefix(resolved, resolvedDist+string(os.PathSeparator)) {
				return fmt.Errorf("module %s is not under distribution directory %s", resolved, resolvedDist)
			}
		}
	}

	return nil
}

// ChecksumProblem describes a declared checksum that does not hold.
type ChecksumProblem struct {
	File string
	Err  error
}

// VerifyChecksums hashes every file with a declared checksum.
func (d *Distribution) VerifyChecksums() []ChecksumProblem {
	var problems []ChecksumProblem
	for file, sum := range d.Checksums {
		path := filepath.Join(d.Path, filepath.FromSlash(file))
		if err := integrity.VerifyFileHash(path, sum); err != nil {
			problems = append(problems, ChecksumProblem{File: file, Err: err})
		}
	}
	return problems
}
