// errors.go - Error taxonomy of the transaction pipeline.

package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is wrapped by every PreconditionError.
	ErrNotInitialized = errors.New("pipeline: not initialized")

	// ErrNetworkAlreadySet is returned when SetActiveNetwork is asked to switch endpoints.
	ErrNetworkAlreadySet = errors.New("pipeline: active network already set")

	// ErrCompileFailed is returned by every operation after a failed Compile.
	ErrCompileFailed = errors.New("pipeline: compilation failed earlier")
)

// PreconditionError reports an operation called before a required step.
type PreconditionError struct {
	Op      string
	Missing string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s has not been called", e.Op, e.Missing)
}

func (e *PreconditionError) Unwrap() error { return ErrNotInitialized }

// LoadError reports an unknown or unloadable contract definition.
type LoadError struct {
	Contract string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load contract %s: %v", e.Contract, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// CompileError reports a circuit that failed to compile or set up.
type CompileError struct {
	Method string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("failed to compile %s: %v", e.Method, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// InvocationError reports a contract method that failed while building a transaction.
type InvocationError struct {
	Method string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invocation of %s failed: %v", e.Method, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ProvingError reports a proof that could not be generated.
type ProvingError struct {
	Method string
	Err    error
}

func (e *ProvingError) Error() string {
	return fmt.Sprintf("proving %s failed: %v", e.Method, e.Err)
}

func (e *ProvingError) Unwrap() error { return e.Err }
