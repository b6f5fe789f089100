package extinit

import (
	"context"
	"sync"

	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

var (
	defaultMu   sync.Mutex
	defaultInit *Initializer

	// Registry is the process-wide in-process provider read by Default.
	Registry = entrypoint.NewStatic()
)

// Default returns the process-wide Initializer. Unless Configure replaced it,
// it reads Registry and loads entries through loader.Default.
func Default() *Initializer {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultInit == nil {
		defaultInit = New(WithProvider(Registry))
	}
	return defaultInit
}

// Configure replaces the process-wide Initializer with one built from opts on
// top of Registry, and returns it. Once the current one has started a run the
// replacement is refused: Configure returns the existing Initializer and false.
func Configure(opts ...Option) (*Initializer, bool) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultInit != nil && defaultInit.State() != Uninitialized {
		return defaultInit, false
	}
	defaultInit = New(append([]Option{WithProvider(Registry)}, opts...)...)
	return defaultInit, true
}

// InitAll runs the process-wide Initializer.
func InitAll(ctx context.Context) (*Result, error) {
	return Default().InitAll(ctx)
}

// EntryPoints lists the entries the process-wide Initializer would run.
func EntryPoints(ctx context.Context) ([]entrypoint.EntryPoint, error) {
	return Default().EntryPoints(ctx)
}
