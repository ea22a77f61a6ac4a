package backend

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCoordinatorTimeout bounds every coordinator call made by the port
// backend, which has no caller context to inherit.
const DefaultCoordinatorTimeout = 5 * time.Second

// Coordinator tracks which threads wait on which objects, for the port
// backend. Implementations must process messages in order: a Wake handled
// after a RegisterWait must post the registered semaphore.
type Coordinator interface {
	// RegisterWait records that thread tid, blocked on kernel semaphore
	// sem, waits on the objects with the given shared indices. It replaces
	// any earlier registration of tid.
	RegisterWait(ctx context.Context, tid uint32, sem int, indices []uint32) error
	// UnregisterWait removes the registration of tid, if any.
	UnregisterWait(ctx context.Context, tid uint32) error
	// Wake posts the semaphore of every thread registered on index.
	Wake(ctx context.Context, index uint32) error
}

// kernelSem is the per-thread kernel semaphore of the port backend.
type kernelSem interface {
	ID() int
	Reset() error
	Post() error
	Wait(deadline time.Time) error
	Close() error
}

// PortOption configures NewPortBackend.
type PortOption interface {
	applyPortOption(*portBackend)
}

type portOptionImpl struct {
	fn func(*portBackend)
}

func (o *portOptionImpl) applyPortOption(b *portBackend) { o.fn(b) }

// WithCoordinatorTimeout overrides DefaultCoordinatorTimeout.
func WithCoordinatorTimeout(d time.Duration) PortOption {
	return &portOptionImpl{fn: func(b *portBackend) {
		if d > 0 {
			b.timeout = d
		}
	}}
}

// portBackend wakes threads through per-thread kernel semaphores, posted on
// behalf of signallers by a Coordinator.
type portBackend struct {
	coord   Coordinator
	newSem  func() (kernelSem, error)
	timeout time.Duration
}

// NewPortBackend returns the port backend, sending wait registrations and
// wake requests to coord.
func NewPortBackend(coord Coordinator, opts ...PortOption) (Backend, error) {
	if coord == nil {
		return nil, fmt.Errorf("backend: port backend requires a coordinator")
	}
	b := &portBackend{
		coord:   coord,
		newSem:  newKernelSem,
		timeout: DefaultCoordinatorTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyPortOption(b)
		}
	}
	return b, nil
}

func (b *portBackend) Kind() Kind { return KindPort }

// Import ignores the descriptor: port objects are addressed by index alone.
// Objects without a shared record (index 0) are not representable.
func (b *portBackend) Import(index uint32, _ Descriptor) (Primitive, error) {
	if index == 0 {
		return nil, ErrNotImplemented
	}
	return &portPrimitive{backend: b, index: index}, nil
}

func (b *portBackend) NewWaiter(tid uint32) (Waiter, error) {
	sem, err := b.newSem()
	if err != nil {
		return nil, err
	}
	return &portWaiter{backend: b, tid: tid, sem: sem}, nil
}

func (b *portBackend) Close() error { return nil }

func (b *portBackend) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

type portPrimitive struct {
	backend *portBackend
	index   uint32
}

// Signal asks the coordinator to wake the object's waiters; n is irrelevant
// because every waiter re-checks the shared state.
func (p *portPrimitive) Signal(n uint64) error {
	if n == 0 {
		return nil
	}
	ctx, cancel := p.backend.context()
	defer cancel()
	return p.backend.coord.Wake(ctx, p.index)
}

func (p *portPrimitive) Consume() (uint64, error) { return 0, nil }

func (p *portPrimitive) Pending() (bool, error) { return false, nil }

func (p *portPrimitive) Fd() int { return -1 }

func (p *portPrimitive) Close() error { return nil }

// portWaiter owns one kernel semaphore, shared by object wake-ups and APC
// alerts; alerts are told apart by the pending counter.
type portWaiter struct {
	backend *portBackend
	sem     kernelSem
	mu      sync.Mutex
	alerts  atomic.Int64
	tid     uint32
	closed  atomic.Bool
}

func (w *portWaiter) Alert() error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.alerts.Add(1)
	return w.sem.Post()
}

func (w *portWaiter) Interrupt() error {
	if w.closed.Load() {
		return ErrClosed
	}
	return w.sem.Post()
}

func (w *portWaiter) TakeAlert() (bool, error) {
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

func (w *portWaiter) Wait(set []Primitive, alertable bool, deadline time.Time, recheck func() bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		return ErrClosed
	}

	indices := make([]uint32, len(set))
	for i, p := range set {
		pp, ok := p.(*portPrimitive)
		if !ok {
			return fmt.Errorf("%w: wait object %d is not a port primitive", ErrNotImplemented, i)
		}
		indices[i] = pp.index
	}

	// stale posts from earlier waits must not satisfy this one
	if err := w.sem.Reset(); err != nil {
		return err
	}
	ctx, cancel := w.backend.context()
	err := w.backend.coord.RegisterWait(ctx, w.tid, w.sem.ID(), indices)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := w.backend.context()
		defer cancel()
		_ = w.backend.coord.UnregisterWait(ctx, w.tid)
	}()

	// armed: any signal from here on posts the semaphore
	if alertable && w.alerts.Load() > 0 {
		return nil
	}
	if recheck != nil && recheck() {
		return nil
	}
	return w.sem.Wait(deadline)
}

func (w *portWaiter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return w.sem.Close()
}
