package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

// DefaultSymbols is the process symbol table used by Default and Register.
var DefaultSymbols = NewSymbols()

// Register adds a callable to DefaultSymbols. Extensions linked into the host
// binary call it from an init function.
func Register(ref string, fn any) error {
	return DefaultSymbols.Register(ref, fn)
}

// Symbols maps references ("module:attr" or bare "module") to callables
// compiled into the process.
type Symbols struct {
	mu      sync.RWMutex
	symbols map[string]any
}

// NewSymbols creates an empty symbol table.
func NewSymbols() *Symbols {
	return &Symbols{symbols: make(map[string]any)}
}

// Register binds ref to fn. Registering the same ref twice is an error.
func (s *Symbols) Register(ref string, fn any) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("symbol reference is required")
	}
	if fn == nil {
		return fmt.Errorf("symbol %q: callable must not be nil", ref)
	}
	if _, err := adapt(context.Background(), ref, fn); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.symbols[ref]; exists {
		return fmt.Errorf("symbol %q already registered", ref)
	}
	s.symbols[ref] = fn
	return nil
}

// Resolve implements Resolver. Whitespace around the module and attribute is
// ignored when matching.
func (s *Symbols) Resolve(ctx context.Context, ep entrypoint.EntryPoint) (Func, error) {
	key := ep.Module()
	if attr := ep.Attr(); attr != "" {
		key += ":" + attr
	}

	s.mu.RLock()
	sym, ok := s.symbols[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUnhandled
	}
	return adapt(ctx, ep.Value, sym)
}
