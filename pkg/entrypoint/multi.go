package entrypoint

import (
	"context"
	"fmt"
)

// Multi queries several sources in order and concatenates their results.
// Each element must implement Provider, Selector, or both.
type Multi []any

// EntryPoints implements Provider. Sources that only implement Selector cannot
// enumerate a whole group and are rejected.
func (m Multi) EntryPoints(ctx context.Context, group string) ([]EntryPoint, error) {
	var out []EntryPoint
	for i, src := range m {
		p, ok := src.(Provider)
		if !ok {
			return nil, fmt.Errorf("source %d (%T) cannot list a whole group", i, src)
		}
		eps, err := p.EntryPoints(ctx, group)
		if err != nil {
			return nil, err
		}
		out = append(out, eps...)
	}
	return out, nil
}

// Select implements Selector, using each source's richest query.
func (m Multi) Select(ctx context.Context, group, name string) ([]EntryPoint, error) {
	var out []EntryPoint
	for _, src := range m {
		eps, err := Collect(ctx, src, group, name)
		if err != nil {
			return nil, err
		}
		out = append(out, eps...)
	}
	return out, nil
}
