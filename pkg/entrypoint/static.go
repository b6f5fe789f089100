package entrypoint

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Static holds entry points registered by host code. Entries are returned in
// registration order. It is safe for concurrent use.
type Static struct {
	mu      sync.RWMutex
	entries []EntryPoint
}

// NewStatic creates an empty in-process provider.
func NewStatic(entries ...EntryPoint) *Static {
	return &Static{entries: append([]EntryPoint(nil), entries...)}
}

// Register adds an entry point. The same (group, name, value) triple is only
// kept once.
func (s *Static) Register(group, name, value string) error {
	group = strings.TrimSpace(group)
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if group == "" || name == "" || value == "" {
		return fmt.Errorf("entry point requires group, name and value (got %q, %q, %q)", group, name, value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range s.entries {
		if ep.Group == group && ep.Name == name && ep.Value == value {
			return nil
		}
	}
	s.entries = append(s.entries, EntryPoint{Group: group, Name: name, Value: value})
	return nil
}

// Len returns the number of registered entries across all groups.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// EntryPoints implements Provider.
func (s *Static) EntryPoints(_ context.Context, group string) ([]EntryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []EntryPoint
	for _, ep := range s.entries {
		if ep.Group == group {
			out = append(out, ep)
		}
	}
	return out, nil
}

// Select implements Selector.
func (s *Static) Select(_ context.Context, group, name string) ([]EntryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []EntryPoint
	for _, ep := range s.entries {
		if ep.Matches(group, name) {
			out = append(out, ep)
		}
	}
	return out, nil
}
