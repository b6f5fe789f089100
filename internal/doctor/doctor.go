// Package doctor checks an extinit installation without running any extension.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/extinit/internal/config"
	"github.com/mattjoyce/extinit/internal/plugin"
	"github.com/mattjoyce/extinit/internal/storage"
	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid         bool    `json:"valid"`
	Distributions int     `json:"distributions"`
	EntryPoints   int     `json:"entry_points"`
	Errors        []Issue `json:"errors,omitempty"`
	Warnings      []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against discovered distributions.
type Doctor struct {
	cfg      *config.Config
	registry *plugin.Registry
}

// New creates a Doctor from a loaded config and distribution registry.
// registry may be nil when discovery itself failed.
func New(cfg *config.Config, registry *plugin.Registry) *Doctor {
	if registry == nil {
		registry = plugin.NewRegistry()
	}
	return &Doctor{cfg: cfg, registry: registry}
}

// Validate runs all checks and returns a result. Nothing is loaded or called.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true, Distributions: len(d.registry.All())}

	d.validatePluginRoots(r)
	d.validateAPIConfig(r)
	d.validateCatalog(r)
	d.validateEntryPoints(r)
	d.validateChecksums(r)
	d.warnNearMisses(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validatePluginRoots checks that each root is a readable directory.
func (d *Doctor) validatePluginRoots(r *Result) {
	if len(d.cfg.PluginRoots) == 0 {
		d.addWarning(r, "plugin_roots", "plugin_roots", "no plugin roots configured; only in-process registrations will run")
		return
	}
	for i, root := range d.cfg.PluginRoots {
		field := fmt.Sprintf("plugin_roots[%d]", i)
		info, err := os.Stat(root)
		switch {
		case os.IsNotExist(err):
			d.addWarning(r, "plugin_roots", field, fmt.Sprintf("plugin root %s does not exist", root))
		case err != nil:
			d.addError(r, "plugin_roots", field, fmt.Sprintf("plugin root %s: %v", root, err))
		case !info.IsDir():
			d.addError(r, "plugin_roots", field, fmt.Sprintf("plugin root %s is not a directory", root))
		}
	}
	if len(d.registry.All()) == 0 {
		d.addWarning(r, "plugin_roots", "", "no distributions discovered")
	}
}

// validateAPIConfig flags a status API reachable off-host without a token.
func (d *Doctor) validateAPIConfig(r *Result) {
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required")
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if d.cfg.API.Token == "" && !isLoopback(host) {
		d.addWarning(r, "api", "api.token", fmt.Sprintf("API listens on %s without a token", d.cfg.API.Listen))
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// validateEntryPoints checks every entry InitAll would run.
func (d *Doctor) validateEntryPoints(r *Result) {
	group, name := d.cfg.Extensions.Group, d.cfg.Extensions.Name
	seen := make(map[string]string)

	for _, dist := range d.registry.All() {
		for _, ep := range dist.EntryPoints(group) {
			if ep.Name != name {
				continue
			}
			r.EntryPoints++
			field := fmt.Sprintf("%s/%s", dist.Name, ep.Value)

			if prev, ok := seen[ep.Value]; ok {
				d.addWarning(r, "entry_points", field,
					fmt.Sprintf("%q is also published by %s and will run once per registration", ep.Value, prev))
			} else {
				seen[ep.Value] = dist.Name
			}

			d.checkResolvable(r, dist, ep, field)
		}
	}
}

// checkResolvable looks for the file a file-backed value points at. Values
// naming no file are expected to be registered in-process by the host.
func (d *Doctor) checkResolvable(r *Result, dist *plugin.Distribution, ep entrypoint.EntryPoint, field string) {
	module := ep.Module()
	if module == "" {
		d.addError(r, "entry_points", field, "value has no module part")
		return
	}
	path := module
	if !filepath.IsAbs(path) {
		path = filepath.Join(dist.Path, filepath.FromSlash(module))
	}
	info, err := os.Stat(path)
	isShared := strings.HasSuffix(module, ".so")

	switch {
	case err == nil && !info.Mode().IsRegular():
		d.addError(r, "entry_points", field, fmt.Sprintf("%s is not a regular file", path))
	case err == nil && !isShared && info.Mode().Perm()&0o111 == 0:
		d.addError(r, "entry_points", field, fmt.Sprintf("%s is not executable", path))
	case err == nil && isShared && ep.Attr() == "":
		d.addError(r, "entry_points", field, "shared object reference needs a symbol name")
	case err == nil:
	case isShared:
		d.addError(r, "entry_points", field, fmt.Sprintf("shared object %s not found", path))
	default:
		d.addWarning(r, "entry_points", field,
			fmt.Sprintf("%q names no file in %s; it must be registered in-process", module, dist.Name))
	}
}

// validateCatalog refuses an enabled catalog on a network mount.
func (d *Doctor) validateCatalog(r *Result) {
	if !d.cfg.Catalog.Enabled {
		return
	}
	_, err := storage.CheckLocalFilesystem(d.cfg.Catalog.Path)
	var remote *storage.NetworkFilesystemError
	switch {
	case errors.As(err, &remote):
		d.addError(r, "catalog", "catalog.path", err.Error())
	case err != nil:
		d.addWarning(r, "catalog", "catalog.path", err.Error())
	}
}

// validateChecksums re-hashes every file with a declared digest.
func (d *Doctor) validateChecksums(r *Result) {
	for _, dist := range d.registry.All() {
		for _, p := range dist.VerifyChecksums() {
			d.addError(r, "checksums", fmt.Sprintf("%s/%s", dist.Name, p.File), p.Err.Error())
		}
	}
}

// warnNearMisses flags entries that look meant for the configured pair but
// differ in case or surrounding space, since matching is exact.
func (d *Doctor) warnNearMisses(r *Result) {
	group, name := d.cfg.Extensions.Group, d.cfg.Extensions.Name
	for _, dist := range d.registry.All() {
		for _, ep := range dist.All() {
			if ep.Matches(group, name) {
				continue
			}
			if looseEqual(ep.Group, group) && looseEqual(ep.Name, name) {
				d.addWarning(r, "entry_points", fmt.Sprintf("%s/%s", dist.Name, ep.Value),
					fmt.Sprintf("registered under (%q, %q), which does not match (%q, %q) and will not run",
						ep.Group, ep.Name, group, name))
			}
		}
	}
}

func looseEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	summary := fmt.Sprintf("%d distribution(s), %d entry point(s)", r.Distributions, r.EntryPoints)
	switch {
	case r.Valid && len(r.Warnings) == 0:
		fmt.Fprintf(&b, "Installation healthy: %s.\n", summary)
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Installation healthy: %s (%d warning(s))\n", summary, len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Installation has problems: %s (%d error(s), %d warning(s))\n", summary, len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
