package fastsync

import (
	"context"
	"fmt"

	"github.com/joeycumines/go-fastsync/server"
	"github.com/joeycumines/go-fastsync/shm"
)

// Attributes describe an object to create.
type Attributes struct {
	// Name makes the object openable by other processes; empty is anonymous.
	Name string
	// Initial is the initial count of a semaphore, the initial owner thread
	// of a mutex (0 for none), or, for events, non-zero to start signalled.
	Initial uint32
	// Max is the maximum count of a semaphore. Ignored by other kinds.
	Max uint32
	// Kind is one of KindSemaphore, KindMutex, KindAutoEvent and
	// KindManualEvent. Server-managed kinds are created by the server only.
	Kind ObjectKind
}

func (a Attributes) validate() error {
	switch a.Kind {
	case KindSemaphore:
		if a.Max == 0 || a.Initial > a.Max {
			return fmt.Errorf("%w: semaphore initial %d, max %d", ErrInvalidParameter, a.Initial, a.Max)
		}
	case KindMutex:
		if a.Initial == shm.Abandoned {
			return fmt.Errorf("%w: mutex owner %d", ErrInvalidParameter, a.Initial)
		}
	case KindAutoEvent, KindManualEvent:
	default:
		return fmt.Errorf("%w: cannot create kind %s", ErrInvalidParameter, a.Kind)
	}
	return nil
}

// Create asks the server for a new object and initializes its shared record.
// If a.Name is already in use by an object of the same kind, that object is
// returned with existed set and its state is left untouched; a different
// kind fails with ErrTypeMismatch.
func (p *Process) Create(ctx context.Context, a Attributes) (h Handle, existed bool, err error) {
	if p.closed.Load() {
		return 0, false, ErrClosed
	}
	if err := a.validate(); err != nil {
		return 0, false, err
	}
	reply, err := p.srv.Create(ctx, &server.CreateRequest{
		Kind:    a.Kind,
		Initial: a.Initial,
		Max:     a.Max,
		Name:    a.Name,
	})
	if err != nil {
		return 0, false, serverError(err)
	}
	obj, err := p.newObject(reply.Handle, a.Kind, reply.Index, reply.Descriptor)
	if err != nil {
		p.discard(reply.Handle)
		return 0, false, err
	}
	if !reply.Existed && obj.record.Valid() {
		initRecord(obj.record, a)
	}
	if obj, _, err = p.install(obj, true); err != nil {
		p.discard(reply.Handle)
		return 0, false, err
	}
	if a.Kind == KindMutex && !reply.Existed && a.Initial != shm.NoOwner {
		if t := p.thread(a.Initial); t != nil {
			t.own(obj)
		}
	}
	obj.release()
	return reply.Handle, reply.Existed, nil
}

func initRecord(rec shm.Record, a Attributes) {
	switch a.Kind {
	case KindSemaphore:
		rec.Semaphore().Init(a.Initial, a.Max)
	case KindMutex:
		rec.Mutex().Init(a.Initial)
	case KindAutoEvent, KindManualEvent:
		rec.Event().Init(a.Initial != 0)
	}
}

// discard returns a handle this process could not use to the server.
func (p *Process) discard(h Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultRPCTimeout)
	defer cancel()
	if err := p.srv.Close(ctx, &server.CloseRequest{Handle: h}); err != nil {
		p.logger.Warning().
			Err(err).
			Uint64(`handle`, uint64(h)).
			Log(`failed to close discarded handle`)
	}
}

// CreateSemaphore creates a semaphore; see Create.
func (p *Process) CreateSemaphore(ctx context.Context, name string, initial, max uint32) (Handle, error) {
	h, _, err := p.Create(ctx, Attributes{Kind: KindSemaphore, Name: name, Initial: initial, Max: max})
	return h, err
}

// CreateMutex creates a mutex, initially owned by owner unless it is 0; see
// Create.
func (p *Process) CreateMutex(ctx context.Context, name string, owner uint32) (Handle, error) {
	h, _, err := p.Create(ctx, Attributes{Kind: KindMutex, Name: name, Initial: owner})
	return h, err
}

// CreateEvent creates a manual-reset or auto-reset event; see Create.
func (p *Process) CreateEvent(ctx context.Context, name string, manual, signaled bool) (Handle, error) {
	a := Attributes{Kind: KindAutoEvent, Name: name}
	if manual {
		a.Kind = KindManualEvent
	}
	if signaled {
		a.Initial = 1
	}
	h, _, err := p.Create(ctx, a)
	return h, err
}

// Open resolves an existing named object, failing with ErrNotFound if there
// is none.
func (p *Process) Open(ctx context.Context, name string) (Handle, ObjectKind, error) {
	if p.closed.Load() {
		return 0, KindNone, ErrClosed
	}
	if name == "" {
		return 0, KindNone, fmt.Errorf("%w: empty name", ErrInvalidParameter)
	}
	reply, err := p.srv.Open(ctx, &server.OpenRequest{Name: name})
	if err != nil {
		return 0, KindNone, serverError(err)
	}
	obj, err := p.newObject(reply.Handle, reply.Kind, reply.Index, reply.Descriptor)
	if err != nil {
		p.discard(reply.Handle)
		return 0, KindNone, err
	}
	if obj, _, err = p.install(obj, true); err != nil {
		p.discard(reply.Handle)
		return 0, KindNone, err
	}
	obj.release()
	return reply.Handle, reply.Kind, nil
}

// CloseHandle drops the local view of h, waking any thread of this process
// waiting on it (those waits fail with ErrInvalidHandle), then releases the
// server's reference. The shared record survives while other handles reference it.
func (p *Process) CloseHandle(ctx context.Context, h Handle) error {
	if p.closed.Load() {
		return ErrClosed
	}
	// until the server has closed h, resolving it fails with ErrInvalidHandle
	if obj := p.cache.swap(h, closing); obj != nil && obj != closing {
		obj.closed.Store(true)
		p.interruptWaiters()
		obj.release()
	}
	err := p.srv.Close(ctx, &server.CloseRequest{Handle: h})
	p.closes.Add(1)
	p.cache.remove(h, closing)
	return serverError(err)
}
