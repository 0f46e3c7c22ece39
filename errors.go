package testpipe

import (
	"errors"
	"fmt"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, file not found, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError represents a failure from test assertions (exit code 1)
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// ChildProcessError represents a harness child process that exited non-zero
// or closed its output stream unexpectedly. It is always surfaced; whether it
// maps to a test failure or a runtime error depends on the exit code.
type ChildProcessError struct {
	ExitCode int
	Abrupt   bool // stream closed without the final unconfigure frame
	Err      error
}

func (e *ChildProcessError) Error() string {
	if e.Abrupt {
		return fmt.Sprintf("child process stream closed abruptly (exit code %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("child process exited with code %d: %v", e.ExitCode, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ChildProcessError) Unwrap() error {
	return e.Err
}

// NewChildProcessError creates a new ChildProcessError
func NewChildProcessError(exitCode int, abrupt bool, err error) *ChildProcessError {
	return &ChildProcessError{ExitCode: exitCode, Abrupt: abrupt, Err: err}
}

// IsChildProcessError checks if the error is or wraps a ChildProcessError
func IsChildProcessError(err error) bool {
	var childErr *ChildProcessError
	return err != nil && errors.As(err, &childErr)
}
