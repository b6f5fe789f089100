// Package loader turns entry point values into callables.
//
// A Loader asks its resolvers in order. Each resolver either produces a Func,
// fails with a typed error, or returns ErrUnhandled so the next one is tried.
// When nobody handles a value the result is a *NotFoundError.
package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

// ErrUnhandled is returned by a Resolver that does not recognise a reference.
var ErrUnhandled = errors.New("reference not handled by resolver")

// Func is a loaded zero-argument extension initializer.
type Func func() error

// Resolver resolves one kind of reference.
type Resolver interface {
	Resolve(ctx context.Context, ep entrypoint.EntryPoint) (Func, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, ep entrypoint.EntryPoint) (Func, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, ep entrypoint.EntryPoint) (Func, error) {
	return f(ctx, ep)
}

// Loader resolves entry points through an ordered list of resolvers.
type Loader struct {
	resolvers []Resolver
}

// New creates a Loader trying resolvers in the given order.
func New(resolvers ...Resolver) *Loader {
	return &Loader{resolvers: resolvers}
}

// Default returns a Loader over the process symbol table, Go shared objects
// and executable entrypoints with default settings.
func Default() *Loader {
	return New(DefaultSymbols, SharedObject{}, NewExecutable(ExecOptions{}))
}

// Load resolves ep to a callable.
func (l *Loader) Load(ctx context.Context, ep entrypoint.EntryPoint) (Func, error) {
	if ep.Module() == "" {
		return nil, &NotFoundError{Value: ep.Value}
	}
	for _, r := range l.resolvers {
		fn, err := r.Resolve(ctx, ep)
		if errors.Is(err, ErrUnhandled) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if fn == nil {
			return nil, &SymbolError{Value: ep.Value, Reason: "resolver returned no callable"}
		}
		return fn, nil
	}
	return nil, &NotFoundError{Value: ep.Value}
}

// adapt converts a looked-up symbol into a Func.
func adapt(ctx context.Context, value string, sym any) (Func, error) {
	switch fn := sym.(type) {
	case Func:
		return fn, nil
	case func() error:
		return fn, nil
	case func():
		return func() error {
			fn()
			return nil
		}, nil
	case func(context.Context) error:
		return func() error { return fn(ctx) }, nil
	case *func():
		if fn == nil || *fn == nil {
			break
		}
		return adapt(ctx, value, *fn)
	case *func() error:
		if fn == nil || *fn == nil {
			break
		}
		return adapt(ctx, value, *fn)
	}
	return nil, &SymbolError{
		Value:  value,
		Reason: fmt.Sprintf("symbol has type %T, want func(), func() error or func(context.Context) error", sym),
	}
}

type runIDKey struct{}

// WithRunID attaches the dispatch run identifier forwarded to executables.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the identifier set by WithRunID, if any.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
