package entrypoint

import (
	"context"
	"fmt"
	"strings"
)

const (
	// DefaultGroup is the extension namespace consumed by extinit hosts.
	DefaultGroup = "extinit_extensions"

	// InitName is the entry name whose callables run at startup.
	InitName = "init"
)

// Distribution describes the installed package that published an entry point.
type Distribution struct {
	Name    string
	Version string
	// Dir is the absolute directory module paths are resolved against.
	Dir string
	// Checksums maps module paths (relative to Dir) to BLAKE3 hex digests.
	Checksums map[string]string
}

// EntryPoint is a (group, name) registration pointing at a loadable callable.
//
// Value uses the "module:attr" form. The attr part is optional.
type EntryPoint struct {
	Group string
	Name  string
	Value string
	// Dist is nil for entries registered in-process.
	Dist *Distribution
}

// Module returns the part of Value before the first colon.
func (e EntryPoint) Module() string {
	module, _, _ := strings.Cut(e.Value, ":")
	return strings.TrimSpace(module)
}

// Attr returns the part of Value after the first colon, or "" if there is none.
func (e EntryPoint) Attr() string {
	_, attr, _ := strings.Cut(e.Value, ":")
	return strings.TrimSpace(attr)
}

// Matches reports whether the entry belongs to the exact (group, name) pair.
func (e EntryPoint) Matches(group, name string) bool {
	return e.Group == group && e.Name == name
}

func (e EntryPoint) String() string {
	return fmt.Sprintf("EntryPoint(name=%q, value=%q, group=%q)", e.Name, e.Value, e.Group)
}

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks github.com/mattjoyce/extinit/pkg/entrypoint Provider,Selector

// Provider is the minimal metadata query: every entry registered in a group.
type Provider interface {
	EntryPoints(ctx context.Context, group string) ([]EntryPoint, error)
}

// Selector is the richer metadata query filtering by group and name at the source.
type Selector interface {
	Select(ctx context.Context, group, name string) ([]EntryPoint, error)
}
