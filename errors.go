package fastsync

import (
	"errors"
	"fmt"

	"github.com/joeycumines/go-fastsync/backend"
	"github.com/joeycumines/go-fastsync/server"
	"github.com/joeycumines/go-fastsync/shm"
)

var (
	// ErrNotImplemented means the object cannot be handled by the fast path;
	// the caller must use the server-synchronous path instead.
	ErrNotImplemented = errors.New("fastsync: not implemented by the fast path")

	// ErrInvalidHandle is returned for stale, foreign, or concurrently
	// closed handles.
	ErrInvalidHandle = errors.New("fastsync: invalid handle")

	// ErrLimitExceeded is returned when a semaphore release would exceed its
	// maximum, or a mutex its recursion limit. State is left unchanged.
	ErrLimitExceeded = errors.New("fastsync: limit exceeded")

	// ErrNotOwner is returned when releasing a mutex the thread does not own.
	ErrNotOwner = errors.New("fastsync: mutex not owned by thread")

	// ErrTypeMismatch is returned when an operation targets the wrong kind.
	ErrTypeMismatch = errors.New("fastsync: object type mismatch")

	// ErrInvalidParameter is returned for invalid arguments.
	ErrInvalidParameter = errors.New("fastsync: invalid parameter")

	// ErrNotFound is returned when opening a name that does not exist.
	ErrNotFound = errors.New("fastsync: object not found")

	// ErrDisabled is returned by New when no fast-path backend is enabled.
	ErrDisabled = errors.New("fastsync: no backend enabled")

	// ErrClosed is returned after the process or thread has been closed.
	ErrClosed = errors.New("fastsync: closed")
)

// BackendError is an unexpected failure of the host wake primitive.
type BackendError struct {
	Err error
	Op  string
}

func (e *BackendError) Error() string {
	return "fastsync: backend " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *BackendError) Unwrap() error { return e.Err }

// FatalError describes a condition that desynchronizes shared state for the
// rest of the process's life: the segment cannot be opened, or the server's
// configuration does not match this process's. It is passed to the fatal
// handler (see WithFatalHandler) before New returns it.
type FatalError struct {
	Err    error
	Reason string
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return "fastsync: fatal: " + e.Reason
	}
	return "fastsync: fatal: " + e.Reason + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *FatalError) Unwrap() error { return e.Err }

// serverError maps coordination channel errors to this package's sentinels.
func serverError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, server.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, server.ErrInvalidHandle):
		return fmt.Errorf("%w: %w", ErrInvalidHandle, err)
	case errors.Is(err, server.ErrTypeMismatch):
		return fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	case errors.Is(err, server.ErrNotImplemented):
		return fmt.Errorf("%w: %w", ErrNotImplemented, err)
	case errors.Is(err, server.ErrInvalidParameter):
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	default:
		return err
	}
}

// recordError maps shared record errors to this package's sentinels.
func recordError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, shm.ErrLimitExceeded):
		return ErrLimitExceeded
	case errors.Is(err, shm.ErrNotOwner):
		return ErrNotOwner
	case errors.Is(err, shm.ErrInvalidIndex), errors.Is(err, shm.ErrOutOfRange):
		return fmt.Errorf("%w: %w", ErrInvalidHandle, err)
	default:
		return err
	}
}

// backendError wraps a backend failure, mapping hangups to ErrInvalidHandle.
func backendError(op string, err error) error {
	var hup *backend.HangupError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &hup):
		return fmt.Errorf("%w: %w", ErrInvalidHandle, err)
	case errors.Is(err, backend.ErrNotImplemented):
		return fmt.Errorf("%w: %w", ErrNotImplemented, err)
	default:
		return &BackendError{Op: op, Err: err}
	}
}
