package extinit

import (
	"log/slog"

	"github.com/mattjoyce/extinit/pkg/loader"
)

// Option configures an Initializer.
type Option func(*Initializer)

// WithProvider sets the metadata source. src must implement
// entrypoint.Provider, entrypoint.Selector, or both.
func WithProvider(src any) Option {
	return func(in *Initializer) { in.provider = src }
}

// WithLoader sets the loader used to resolve entry point values.
func WithLoader(l *loader.Loader) Option {
	return func(in *Initializer) { in.loader = l }
}

// WithGroup overrides the extension group.
func WithGroup(group string) Option {
	return func(in *Initializer) {
		if group != "" {
			in.group = group
		}
	}
}

// WithName overrides the entry point name.
func WithName(name string) Option {
	return func(in *Initializer) {
		if name != "" {
			in.name = name
		}
	}
}

// WithSortedOrder runs extensions sorted by value instead of provider order.
func WithSortedOrder() Option {
	return func(in *Initializer) { in.sorted = true }
}

// WithWarningHandler replaces the default handler, which logs each warning and
// keeps it for Warnings.
func WithWarningHandler(h WarningHandler) Option {
	return func(in *Initializer) { in.onWarning = h }
}

// WithObserver adds an outcome observer.
func WithObserver(o Observer) Option {
	return func(in *Initializer) {
		if o != nil {
			in.observers = append(in.observers, o)
		}
	}
}

// WithLogger sets the logger for debug traces.
func WithLogger(l *slog.Logger) Option {
	return func(in *Initializer) { in.logger = l }
}
