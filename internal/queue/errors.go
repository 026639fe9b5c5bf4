// Copyright 2025 James Ross
package queue

import "errors"

// ProtocolError is the sentinel error taxonomy every protocol operation
// signals exceptional conditions through. Use errors.Is against the
// exported Err* values below.
type ProtocolError struct {
	kind string
	msg  string
}

func (e *ProtocolError) Error() string { return e.msg }

func newErr(kind, msg string) *ProtocolError {
	return &ProtocolError{kind: kind, msg: msg}
}

var (
	// ErrNoConnection is raised by the connection-resolution helper when no
	// current store is resolvable.
	ErrNoConnection = newErr("no_connection", "no redis connection resolvable")

	// ErrNoSuchJob is returned when a job hash is expected but missing.
	ErrNoSuchJob = newErr("no_such_job", "no such job")

	// ErrNoSuchWorker is returned when a worker hash is expected but missing.
	ErrNoSuchWorker = newErr("no_such_worker", "no such worker")

	// ErrInvalidOperation covers operations that are not valid given a job's
	// current state, e.g. requeuing a job that isn't failed.
	ErrInvalidOperation = newErr("invalid_operation", "invalid operation")

	// ErrDequeueTimeout is a non-fatal, expected signal that a blocking
	// dequeue elapsed without yielding a job. Callers treat it as normal
	// flow control, not a failure.
	ErrDequeueTimeout = newErr("dequeue_timeout", "dequeue timed out")

	// ErrDoubleBirth is raised when Birth is called for a worker name that
	// already has a live worker hash.
	ErrDoubleBirth = newErr("double_birth", "worker already registered")
)

// Is implements errors.Is matching by sentinel identity, following the
// pattern of comparing against a package-level var.
func (e *ProtocolError) Is(target error) bool {
	var pe *ProtocolError
	if errors.As(target, &pe) {
		return pe.kind == e.kind
	}
	return false
}
