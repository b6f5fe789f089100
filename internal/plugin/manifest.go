package plugin

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

const (
	// SupportedManifestSpec identifies distribution manifests.
	SupportedManifestSpec = "extinit.dist"
	// SupportedManifestVersion is the only manifest layout understood here.
	SupportedManifestVersion = 1
)

// Entry is one declared entry point inside a group.
type Entry struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Group is an ordered list of entries declared under one group name.
//
// Two formats are accepted:
//   - mapping: init: pkgA:setup
//   - entry_points.txt style list: ["init = pkgA:setup"]
type Group []Entry

func (g *Group) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*g = nil
		return nil
	}

	var out []Entry
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if val.Kind != yaml.ScalarNode {
				return fmt.Errorf("entry %q: value must be a string", key.Value)
			}
			out = append(out, Entry{
				Name:  strings.TrimSpace(key.Value),
				Value: strings.TrimSpace(val.Value),
			})
		}
	case yaml.SequenceNode:
		for _, item := range n.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				name, value, ok := strings.Cut(item.Value, "=")
				if !ok {
					return fmt.Errorf("entry %q: want \"name = value\"", item.Value)
				}
				out = append(out, Entry{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
			case yaml.MappingNode:
				var tmp Entry
				if err := item.Decode(&tmp); err != nil {
					return fmt.Errorf("invalid entry object: %w", err)
				}
				tmp.Name = strings.TrimSpace(tmp.Name)
				tmp.Value = strings.TrimSpace(tmp.Value)
				out = append(out, tmp)
			default:
				return fmt.Errorf("invalid entry (must be string or object)")
			}
		}
	default:
		return fmt.Errorf("entry point group must be a mapping or a sequence")
	}

	*g = out
	return nil
}

// GroupDecl pairs a group name with its entries.
type GroupDecl struct {
	Name    string
	Entries Group
}

// Groups keeps entry point groups in manifest order.
type Groups []GroupDecl

func (gs *Groups) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*gs = nil
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("entry_points must be a mapping of group to entries")
	}

	out := make(Groups, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		var entries Group
		if err := n.Content[i+1].Decode(&entries); err != nil {
			return fmt.Errorf("group %q: %w", n.Content[i].Value, err)
		}
		out = append(out, GroupDecl{Name: strings.TrimSpace(n.Content[i].Value), Entries: entries})
	}

	*gs = out
	return nil
}

// Manifest defines the structure of a distribution's manifest.yaml file.
type Manifest struct {
	ManifestSpec    string            `yaml:"manifest_spec"`
	ManifestVersion int               `yaml:"manifest_version"`
	Name            string            `yaml:"name"`
	Version         string            `yaml:"version"`
	Description     string            `yaml:"description,omitempty"`
	EntryPoints     Groups            `yaml:"entry_points"`
	Checksums       map[string]string `yaml:"checksums,omitempty"`
}

// Distribution is a discovered and validated installed package.
type Distribution struct {
	Name        string            // Distribution name from manifest
	Version     string            // Distribution version
	Description string            // Human-readable description
	Path        string            // Absolute path to the distribution directory
	Root        string            // Plugin root it was found under
	Groups      Groups            // Declared entry points, in manifest order
	Checksums   map[string]string // Module file -> BLAKE3 digest
}

// Meta returns the provenance record attached to this distribution's entry points.
func (d *Distribution) Meta() *entrypoint.Distribution {
	return &entrypoint.Distribution{
		Name:      d.Name,
		Version:   d.Version,
		Dir:       d.Path,
		Checksums: d.Checksums,
	}
}

// EntryPoints returns the entries declared under group, in manifest order.
func (d *Distribution) EntryPoints(group string) []entrypoint.EntryPoint {
	var out []entrypoint.EntryPoint
	meta := d.Meta()
	for _, g := range d.Groups {
		if g.Name != group {
			continue
		}
		for _, e := range g.Entries {
			out = append(out, entrypoint.EntryPoint{Group: group, Name: e.Name, Value: e.Value, Dist: meta})
		}
	}
	return out
}

// All returns every declared entry point across groups.
func (d *Distribution) All() []entrypoint.EntryPoint {
	var out []entrypoint.EntryPoint
	meta := d.Meta()
	for _, g := range d.Groups {
		for _, e := range g.Entries {
			out = append(out, entrypoint.EntryPoint{Group: g.Name, Name: e.Name, Value: e.Value, Dist: meta})
		}
	}
	return out
}

// GroupNames returns declared group names in manifest order.
func (d *Distribution) GroupNames() []string {
	out := make([]string, 0, len(d.Groups))
	for _, g := range d.Groups {
		out = append(out, g.Name)
	}
	return out
}
