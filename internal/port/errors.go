package port

import (
	"errors"
	"fmt"
)

// Sentinel errors used across ports.
var (
	// ErrSynthesisFailed means the synthesizer could not produce a valid SQL
	// statement. Distinguishable from an empty result: the resolver reacts by
	// falling back straight to vector search.
	ErrSynthesisFailed = errors.New("sql synthesis failed")

	// ErrTenantFilterMissing means a synthesized statement reached the
	// executor without any tenant predicate. This is fatal for the query:
	// unscoped SQL is never executed.
	ErrTenantFilterMissing = errors.New("tenant filter missing from synthesized sql")

	ErrUnauthorized    = errors.New("unauthorized")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenInvalid    = errors.New("token invalid")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvoiceNotFound = errors.New("invoice not found")
)

// ExecutionErrorKind classifies SQL executor failures.
type ExecutionErrorKind string

const (
	ExecSyntaxError  ExecutionErrorKind = "syntax_error"
	ExecRuntimeError ExecutionErrorKind = "runtime_error"
	ExecTimeout      ExecutionErrorKind = "timeout"
)

// ExecutionError is a classified SQL executor failure. The resolver treats it
// like an empty result for fallback purposes, but it is logged distinctly.
type ExecutionError struct {
	Kind ExecutionErrorKind
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("sql execution failed (%s): %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// AsExecutionError unwraps err into an *ExecutionError if it is one.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
