package loader

import "fmt"

// NotFoundError means no resolver recognised the entry point value.
type NotFoundError struct {
	Value string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no module named %q", e.Value)
}

// SymbolError means the module was found but the attribute is missing or has
// an unusable shape.
type SymbolError struct {
	Value  string
	Reason string
	Err    error
}

func (e *SymbolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot load %q: %s: %v", e.Value, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot load %q: %s", e.Value, e.Reason)
}

func (e *SymbolError) Unwrap() error { return e.Err }

// IntegrityError means a module file failed its declared checksum.
type IntegrityError struct {
	Path string
	Err  error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: %v", e.Path, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// ExecError reports a failed executable entrypoint: spawn failure, protocol
// error, error status or timeout.
type ExecError struct {
	Path   string
	Reason string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecError) Unwrap() error { return e.Err }
