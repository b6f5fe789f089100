package extinit

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/extinit/internal/log"
	"github.com/mattjoyce/extinit/pkg/entrypoint"
	"github.com/mattjoyce/extinit/pkg/loader"
)

// State is the lifecycle position of an Initializer.
type State int32

const (
	// Uninitialized is the starting state. InitAll runs extensions from here.
	Uninitialized State = iota
	// Initializing is held while extensions run. Calls made meanwhile, including
	// calls from the extensions themselves, return without doing anything.
	Initializing
	// Initialized is terminal for the life of the process.
	Initialized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Observer is notified about each extension outcome.
type Observer interface {
	OnLoad(ep entrypoint.EntryPoint, elapsed time.Duration)
	OnFailure(ep entrypoint.EntryPoint, w Warning)
}

// Result summarises one InitAll call.
type Result struct {
	RunID     string        `json:"run_id,omitempty"`
	Skipped   bool          `json:"skipped"`
	Attempted int           `json:"attempted"`
	Loaded    []string      `json:"loaded"`
	Failed    []Warning     `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Initializer runs every registered init entry point once per process.
type Initializer struct {
	state atomic.Int32

	provider  any
	loader    *loader.Loader
	group     string
	name      string
	sorted    bool
	onWarning WarningHandler
	observers []Observer
	logger    *slog.Logger
	captured  warningLog
}

// New creates an Initializer. Without options it reads entries from an empty
// in-process provider and loads them with loader.Default.
func New(opts ...Option) *Initializer {
	in := &Initializer{
		provider: entrypoint.NewStatic(),
		group:    entrypoint.DefaultGroup,
		name:     entrypoint.InitName,
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.loader == nil {
		in.loader = loader.Default()
	}
	if in.logger == nil {
		in.logger = log.WithComponent("extinit")
	}
	if in.onWarning == nil {
		in.onWarning = in.defaultWarningHandler
	}
	return in
}

// State reports the current lifecycle state.
func (in *Initializer) State() State {
	return State(in.state.Load())
}

// Warnings returns the warnings recorded by the default handler.
func (in *Initializer) Warnings() []Warning {
	return in.captured.snapshot()
}

// EntryPoints returns the entries InitAll would run, in the order it would run
// them, without loading anything.
func (in *Initializer) EntryPoints(ctx context.Context) ([]entrypoint.EntryPoint, error) {
	eps, err := entrypoint.Collect(ctx, in.provider, in.group, in.name)
	if err != nil {
		return nil, err
	}
	if in.sorted {
		sortByValue(eps)
	}
	return eps, nil
}

// InitAll loads and calls every entry point in the configured group whose name
// matches. Only the first call does anything.
//
// Failures in individual extensions become warnings and never abort the run.
// A failing metadata query is returned as an error and leaves the Initializer
// uninitialized so a later call can retry. A panic from the warning handler or
// an observer propagates, but the Initializer still ends up initialized.
func (in *Initializer) InitAll(ctx context.Context) (*Result, error) {
	if !in.state.CompareAndSwap(int32(Uninitialized), int32(Initializing)) {
		return &Result{Skipped: true}, nil
	}

	start := time.Now()
	runID := uuid.NewString()
	logger := log.WithRun(in.logger, runID).With("group", in.group)

	seq, err := in.discover(ctx)
	if err != nil {
		in.state.Store(int32(Uninitialized))
		logger.Error("extension discovery failed", "error", err)
		return nil, err
	}
	// Extensions may already have run when a warning handler or observer
	// panics, so the run still counts.
	defer in.state.Store(int32(Initialized))
	if in.sorted {
		eps := slices.Collect(seq)
		sortByValue(eps)
		seq = slices.Values(eps)
	}

	ctx = loader.WithRunID(ctx, runID)
	res := &Result{RunID: runID, Loaded: []string{}, Failed: []Warning{}}
	for ep := range seq {
		res.Attempted++
		logger.Debug("loading extension", "entry_point", ep.String())

		began := time.Now()
		if err := in.run(ctx, ep); err != nil {
			w := newWarning(ep, err)
			res.Failed = append(res.Failed, w)
			in.onWarning(w)
			for _, o := range in.observers {
				o.OnFailure(ep, w)
			}
			logger.Debug("extension loading failed", "entry_point", ep.String())
			continue
		}
		elapsed := time.Since(began)
		res.Loaded = append(res.Loaded, ep.Value)
		for _, o := range in.observers {
			o.OnLoad(ep, elapsed)
		}
	}

	res.Duration = time.Since(start)
	logger.Debug("extensions initialized",
		"attempted", res.Attempted,
		"loaded", len(res.Loaded),
		"failed", len(res.Failed),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// discover queries the provider. A panicking provider leaves the state
// Uninitialized before the panic continues.
func (in *Initializer) discover(ctx context.Context) (iter.Seq[entrypoint.EntryPoint], error) {
	defer func() {
		if r := recover(); r != nil {
			in.state.Store(int32(Uninitialized))
			panic(r)
		}
	}()
	return entrypoint.Sequence(ctx, in.provider, in.group, in.name)
}

// run loads and calls one entry point, turning panics into errors.
func (in *Initializer) run(ctx context.Context, ep entrypoint.EntryPoint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	fn, err := in.loader.Load(ctx, ep)
	if err != nil {
		return err
	}
	return fn()
}

func (in *Initializer) defaultWarningHandler(w Warning) {
	in.captured.add(w)
	in.logger.Warn(w.String(), "extension", w.Value, "kind", w.Kind)
}

// Reset returns the Initializer to Uninitialized and drops captured warnings.
// It exists for tests; production code never needs to run extensions twice.
func (in *Initializer) Reset() {
	in.state.Store(int32(Uninitialized))
	in.captured.mu.Lock()
	in.captured.warnings = nil
	in.captured.mu.Unlock()
}

func sortByValue(eps []entrypoint.EntryPoint) {
	slices.SortStableFunc(eps, func(a, b entrypoint.EntryPoint) int {
		return cmp.Compare(a.Value, b.Value)
	})
}
