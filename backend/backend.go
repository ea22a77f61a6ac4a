package backend

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind selects a backend implementation.
type Kind uint8

const (
	// KindNone means no fast-path backend is enabled.
	KindNone Kind = iota
	// KindEventFD selects the eventfd + poll backend.
	KindEventFD
	// KindPort selects the kernel semaphore + coordinator backend.
	KindPort
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindEventFD:
		return "eventfd"
	case KindPort:
		return "port"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String. The empty string parses as KindNone.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return KindNone, nil
	case "eventfd":
		return KindEventFD, nil
	case "port":
		return KindPort, nil
	default:
		return KindNone, fmt.Errorf("backend: unknown kind %q", s)
	}
}

var (
	// ErrTimeout is returned by Waiter.Wait once the deadline has passed.
	ErrTimeout = errors.New("backend: wait timed out")

	// ErrClosed is returned when using a closed primitive or waiter.
	ErrClosed = errors.New("backend: closed")

	// ErrUnsupported is returned when the backend cannot run on this host.
	ErrUnsupported = errors.New("backend: unsupported on this platform")

	// ErrNotImplemented is returned by Backend.Import for objects this
	// backend cannot represent; callers must use the server path instead.
	ErrNotImplemented = errors.New("backend: object not representable by this backend")

	// ErrInvalidDescriptor is returned for a descriptor that names nothing.
	ErrInvalidDescriptor = errors.New("backend: invalid descriptor")
)

// HangupError reports an error or hangup indication on a member of a
// multiplexed wait; Index is its position in the wait set.
type HangupError struct {
	Index int
}

func (e *HangupError) Error() string {
	return fmt.Sprintf("backend: error or hangup on wait object %d", e.Index)
}

// OpError is an unexpected failure of the underlying primitive.
type OpError struct {
	Err error
	Op  string
}

func (e *OpError) Error() string { return "backend: " + e.Op + ": " + e.Err.Error() }

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *OpError) Unwrap() error { return e.Err }

// Descriptor names a primitive in the coordinating server's descriptor table.
// PID 0 means the current process.
type Descriptor struct {
	PID int `json:"pid,omitempty"`
	FD  int `json:"fd"`
}

// Primitive is the per-object wake primitive.
//
// Signal and Consume never block. Implementations must guarantee that a
// Signal issued after a state transition wakes any waiter blocked on the
// primitive at that time.
type Primitive interface {
	// Signal delivers n wake-ups.
	Signal(n uint64) error
	// Consume drains any outstanding wake-ups, returning how many there were.
	Consume() (uint64, error)
	// Pending reports whether wake-ups are outstanding, without consuming.
	Pending() (bool, error)
	// Fd returns the descriptor used for multiplexing, or -1.
	Fd() int
	// Close releases the local copy of the primitive.
	Close() error
}

// Waiter is the blocking context of one thread. It is not safe for
// concurrent Wait calls, but Alert may be called from anywhere.
type Waiter interface {
	// Alert queues an APC wake-up for this thread.
	Alert() error
	// Interrupt wakes the current or next Wait without queuing an alert,
	// forcing the caller to re-check its wait set.
	Interrupt() error
	// TakeAlert consumes one pending APC wake-up, if any.
	TakeAlert() (bool, error)
	// Wait blocks until a member of set is signalled, an alert arrives
	// (if alertable), or deadline passes (zero deadline: forever).
	//
	// recheck, if non-nil, is called once the waiter is armed, i.e. after
	// the point where any later Signal is guaranteed to wake it. If it
	// returns true Wait returns nil without blocking.
	//
	// A nil result only means "re-check the shared state": wake-ups may be
	// spurious. Deadline expiry returns ErrTimeout, an error or hangup
	// indication on a member returns *HangupError.
	Wait(set []Primitive, alertable bool, deadline time.Time, recheck func() bool) error
	// Close releases the waiter.
	Close() error
}

// Backend creates primitives and waiters for one implementation.
type Backend interface {
	// Kind identifies the implementation.
	Kind() Kind
	// Import obtains a local primitive for the object with the given shared
	// index, from the descriptor handed out by the server.
	Import(index uint32, d Descriptor) (Primitive, error)
	// NewWaiter creates the blocking context of thread tid.
	NewWaiter(tid uint32) (Waiter, error)
	// Close releases backend-wide resources.
	Close() error
}

// timeoutMillis converts an absolute deadline to a poll-style timeout,
// rounding up so a wait never ends before the deadline. A zero deadline is
// infinite (-1).
func timeoutMillis(deadline time.Time, now time.Time) int {
	if deadline.IsZero() {
		return -1
	}
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > 1<<31-1 {
		return 1<<31 - 1
	}
	return int(ms)
}
