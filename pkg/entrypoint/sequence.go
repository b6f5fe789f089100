package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// ErrNoProvider is returned when discovery runs without a metadata source.
var ErrNoProvider = errors.New("no entry point provider configured")

// Sequence queries src for entries matching (group, name) and returns them as a
// lazy sequence. src must implement Provider, Selector, or both.
//
// Query errors are returned before any entry is yielded.
func Sequence(ctx context.Context, src any, group, name string) (iter.Seq[EntryPoint], error) {
	var (
		raw []EntryPoint
		err error
	)

	switch s := src.(type) {
	case nil:
		return nil, ErrNoProvider
	case Selector:
		raw, err = s.Select(ctx, group, name)
	case Provider:
		raw, err = s.EntryPoints(ctx, group)
	default:
		return nil, fmt.Errorf("unsupported entry point source %T", src)
	}
	if err != nil {
		return nil, fmt.Errorf("query entry points for group %q: %w", group, err)
	}

	return func(yield func(EntryPoint) bool) {
		for _, ep := range raw {
			if !ep.Matches(group, name) {
				continue
			}
			if !yield(ep) {
				return
			}
		}
	}, nil
}

// Collect is a convenience wrapper returning the whole sequence as a slice.
func Collect(ctx context.Context, src any, group, name string) ([]EntryPoint, error) {
	seq, err := Sequence(ctx, src, group, name)
	if err != nil {
		return nil, err
	}
	var out []EntryPoint
	for ep := range seq {
		out = append(out, ep)
	}
	return out, nil
}
