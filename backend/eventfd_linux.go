//go:build linux

package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// EventFD is an eventfd(2) used as a wake primitive. The counter carries
// pending wake-ups; it is never the authoritative object state.
type EventFD struct {
	fd     int
	closed atomic.Bool
}

// NewEventFD creates a non-blocking, close-on-exec eventfd with the given
// initial counter. Servers use it to allocate one primitive per object.
func NewEventFD(initial uint) (*EventFD, error) {
	fd, err := unix.Eventfd(initial, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, &OpError{Op: "eventfd", Err: err}
	}
	return &EventFD{fd: fd}, nil
}

// WrapEventFD adopts an already open eventfd, switching it to non-blocking.
func WrapEventFD(fd int) (*EventFD, error) {
	if fd < 0 {
		return nil, ErrInvalidDescriptor
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, &OpError{Op: "fcntl", Err: err}
	}
	return &EventFD{fd: fd}, nil
}

// Fd returns the descriptor, for polling or handing to another process.
func (e *EventFD) Fd() int { return e.fd }

// Signal adds n to the counter. An already saturated counter still wakes
// pollers, so EAGAIN counts as success.
func (e *EventFD) Signal(n uint64) error {
	if n == 0 {
		return nil
	}
	if e.closed.Load() {
		return ErrClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], n)
	for attempt := 0; ; attempt++ {
		_, err := unix.Write(e.fd, buf[:])
		switch {
		case err == nil, errors.Is(err, unix.EAGAIN):
			return nil
		case errors.Is(err, unix.EINTR) && attempt == 0:
			continue
		default:
			return &OpError{Op: "eventfd write", Err: err}
		}
	}
}

// Consume reads and clears the counter. It returns 0 if nothing is pending.
func (e *EventFD) Consume() (uint64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	var buf [8]byte
	for attempt := 0; ; attempt++ {
		_, err := unix.Read(e.fd, buf[:])
		switch {
		case err == nil:
			return binary.NativeEndian.Uint64(buf[:]), nil
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		case errors.Is(err, unix.EINTR) && attempt == 0:
			continue
		default:
			return 0, &OpError{Op: "eventfd read", Err: err}
		}
	}
}

// Pending polls the descriptor without blocking.
func (e *EventFD) Pending() (bool, error) {
	if e.closed.Load() {
		return false, ErrClosed
	}
	fds := [1]unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}
	for attempt := 0; ; attempt++ {
		n, err := unix.Poll(fds[:], 0)
		switch {
		case err == nil:
			return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
		case errors.Is(err, unix.EINTR) && attempt == 0:
			continue
		default:
			return false, &OpError{Op: "poll", Err: err}
		}
	}
}

// Close closes the descriptor. Calling it twice returns ErrClosed.
func (e *EventFD) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return unix.Close(e.fd)
}

// eventFDBackend multiplexes per-object eventfds with poll(2).
type eventFDBackend struct{}

// NewEventFDBackend returns the eventfd backend.
func NewEventFDBackend() Backend { return eventFDBackend{} }

func (eventFDBackend) Kind() Kind { return KindEventFD }

func (eventFDBackend) Import(_ uint32, d Descriptor) (Primitive, error) {
	fd, err := ImportFD(d)
	if err != nil {
		return nil, err
	}
	e, err := WrapEventFD(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return e, nil
}

func (eventFDBackend) NewWaiter(uint32) (Waiter, error) {
	wake, err := NewEventFD(0)
	if err != nil {
		return nil, err
	}
	return &eventFDWaiter{wake: wake}, nil
}

func (eventFDBackend) Close() error { return nil }

// eventFDWaiter owns a private eventfd, appended as the last member of every
// poll set, which carries both APC alerts and interrupts.
type eventFDWaiter struct {
	wake   *EventFD
	fds    []unix.PollFd
	mu     sync.Mutex
	alerts atomic.Int64
}

func (w *eventFDWaiter) Alert() error {
	w.alerts.Add(1)
	return w.wake.Signal(1)
}

func (w *eventFDWaiter) Interrupt() error { return w.wake.Signal(1) }

func (w *eventFDWaiter) TakeAlert() (bool, error) {
	for {
		n := w.alerts.Load()
		if n <= 0 {
			return false, nil
		}
		if w.alerts.CompareAndSwap(n, n-1) {
			return true, nil
		}
	}
}

func (w *eventFDWaiter) Wait(set []Primitive, alertable bool, deadline time.Time, recheck func() bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.fds = w.fds[:0]
	for i, p := range set {
		fd := p.Fd()
		if fd < 0 {
			return fmt.Errorf("%w: wait object %d is not pollable", ErrNotImplemented, i)
		}
		w.fds = append(w.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	w.fds = append(w.fds, unix.PollFd{Fd: int32(w.wake.Fd()), Events: unix.POLLIN})

	// wake-ups issued before this point are covered by the checks below
	if _, err := w.wake.Consume(); err != nil {
		return err
	}
	if alertable && w.alerts.Load() > 0 {
		return nil
	}
	if recheck != nil && recheck() {
		return nil
	}

	for attempt := 0; ; attempt++ {
		timeout := timeoutMillis(deadline, time.Now())
		if timeout == 0 {
			return ErrTimeout
		}
		n, err := unix.Poll(w.fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				if attempt == 0 {
					continue
				}
				return nil
			}
			return &OpError{Op: "poll", Err: err}
		}
		if n == 0 {
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return ErrTimeout
			}
			return nil
		}
		for i := range w.fds {
			if w.fds[i].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				if i < len(set) {
					return &HangupError{Index: i}
				}
				return &OpError{Op: "poll", Err: unix.EBADF}
			}
		}
		return nil
	}
}

func (w *eventFDWaiter) Close() error { return w.wake.Close() }
