package extinit

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

// Warning describes an extension that failed to load or initialize.
type Warning struct {
	Value   string                `json:"value"`
	Kind    string                `json:"kind"`
	Message string                `json:"message"`
	Entry   entrypoint.EntryPoint `json:"-"`
	Err     error                 `json:"-"`
}

func (w Warning) String() string {
	return fmt.Sprintf("Extension '%s' failed to load due to '%s(%s)'.", w.Value, w.Kind, w.Message)
}

// WarningHandler receives warnings as they are raised. It runs on the
// goroutine calling InitAll.
type WarningHandler func(Warning)

// PanicError wraps a value recovered from a panicking extension.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

func newWarning(ep entrypoint.EntryPoint, err error) Warning {
	return Warning{
		Value:   ep.Value,
		Kind:    errorKind(err),
		Message: err.Error(),
		Entry:   ep,
		Err:     err,
	}
}

// errorKind names the error's type. Wrappers from the errors and fmt packages
// are looked through; if only anonymous stdlib errors remain the kind is "Error".
func errorKind(err error) string {
	if k, ok := err.(interface{ Kind() string }); ok {
		return k.Kind()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		switch t.PkgPath() {
		case "errors", "fmt":
			continue
		}
		if t.Name() != "" {
			return t.Name()
		}
	}
	return "Error"
}

// warningLog keeps warnings raised by the default handler.
type warningLog struct {
	mu       sync.Mutex
	warnings []Warning
}

func (l *warningLog) add(w Warning) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, w)
}

func (l *warningLog) snapshot() []Warning {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Warning(nil), l.warnings...)
}
