package gatekeeper

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies why an execution was refused or failed. Gateways map
// kinds onto their transport's status codes.
type Kind string

const (
	// KindAccessDenied marks a tool off the allow-list or missing from
	// the host.
	KindAccessDenied Kind = "access_denied"

	// KindValidation marks malformed input: bad tool name, forbidden
	// argument characters, unbalanced quoting, or an out-of-range
	// timeout.
	KindValidation Kind = "validation"

	// KindTimeout marks an execution killed at its deadline.
	KindTimeout Kind = "timeout"

	// KindExecution marks a failure to start or supervise the process.
	// A tool that runs and exits non-zero is NOT an execution error.
	KindExecution Kind = "execution"
)

// Error is the typed failure every refused or failed execution returns.
type Error struct {
	Kind    Kind
	Message string

	// Elapsed is set on timeouts: how long the process ran before it
	// was killed.
	Elapsed time.Duration

	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Message + ": " + e.err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

// KindOf extracts the Kind from err, or KindExecution when err is not a
// gatekeeper error. Unclassified failures deny by default.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindExecution
}

func accessDenied(format string, args ...any) *Error {
	return &Error{Kind: KindAccessDenied, Message: fmt.Sprintf(format, args...)}
}

func validationErr(err error, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), err: err}
}

func timeoutErr(elapsed time.Duration, format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...), Elapsed: elapsed}
}

func executionErr(err error, format string, args ...any) *Error {
	return &Error{Kind: KindExecution, Message: fmt.Sprintf(format, args...), err: err}
}
