package fastsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-fastsync/backend"
	"github.com/joeycumines/go-fastsync/server"
	"github.com/joeycumines/go-fastsync/shm"
)

// Server is the coordination channel a Process depends on. *server.Client
// implements it.
type Server interface {
	Hello(ctx context.Context, in *server.HelloRequest) (*server.HelloReply, error)
	Create(ctx context.Context, in *server.CreateRequest) (*server.CreateReply, error)
	Open(ctx context.Context, in *server.OpenRequest) (*server.OpenReply, error)
	GetDescriptor(ctx context.Context, in *server.DescriptorRequest) (*server.DescriptorReply, error)
	Close(ctx context.Context, in *server.CloseRequest) error
	backend.Coordinator
}

var _ Server = (*server.Client)(nil)

// Process is the fast path of one client process: its view of the shared
// segment, its handle cache, and its threads.
//
// THREAD SAFE: all methods may be called concurrently, except Close, which
// must not race with operations still in flight.
type Process struct {
	srv      Server
	backend  backend.Backend
	segment  *shm.Segment
	logger   *logiface.Logger[logiface.Event]
	metrics  *metrics
	fallback Fallback
	threads  map[uint32]*Thread
	cache    handleCache
	spin     int
	mu       sync.Mutex
	closed   atomic.Bool
	// closes counts completed CloseHandle calls, so a resolve that raced
	// one can tell its descriptor may be stale
	closes atomic.Uint64
}

// New starts the fast path. The backend comes from WithBackend, or else the
// environment (ConfigFromEnv); with none enabled New returns ErrDisabled and
// the caller must use the server for everything.
//
// Disagreeing with the server about the backend, or failing to map the
// segment it names, is fatal: the fatal handler runs, then New returns the
// *FatalError.
func New(ctx context.Context, srv Server, opts ...Option) (*Process, error) {
	cfg, err := resolveProcessOptions(opts)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, fmt.Errorf("%w: nil server", ErrInvalidParameter)
	}

	p := &Process{
		srv:      srv,
		logger:   cfg.logger,
		fallback: cfg.fallback,
		threads:  make(map[uint32]*Thread),
		spin:     cfg.spin,
	}
	if cfg.metrics {
		p.metrics = new(metrics)
	}
	fatal := cfg.fatal
	if fatal == nil {
		fatal = func(*FatalError) { os.Exit(1) }
	}

	kind := cfg.backend
	if !cfg.backendSet {
		getenv := cfg.getenv
		if getenv == nil {
			getenv = os.Getenv
		}
		if kind, err = ConfigFromEnv(getenv); err != nil {
			var fe *FatalError
			if errors.As(err, &fe) {
				return nil, p.fatal(fatal, fe)
			}
			return nil, err
		}
	}
	if kind == backend.KindNone {
		return nil, ErrDisabled
	}

	hello, err := srv.Hello(ctx, &server.HelloRequest{Backend: kind, PID: os.Getpid()})
	if err != nil {
		return nil, serverError(err)
	}
	if hello.Backend != kind {
		return nil, p.fatal(fatal, &FatalError{Reason: fmt.Sprintf("backend mismatch: process uses %s, server uses %s", kind, hello.Backend)})
	}
	if hello.Segment == "" {
		return nil, p.fatal(fatal, &FatalError{Reason: "server did not name a shared segment"})
	}
	path := hello.Segment
	if !filepath.IsAbs(path) {
		path = shm.PathFor(cfg.segmentDir, path)
	}
	if p.segment, err = shm.Open(path, hello.PageSize); err != nil {
		return nil, p.fatal(fatal, &FatalError{Reason: "cannot open shared segment", Err: err})
	}

	switch kind {
	case backend.KindEventFD:
		p.backend = backend.NewEventFDBackend()
	case backend.KindPort:
		p.backend, err = backend.NewPortBackend(srv, backend.WithCoordinatorTimeout(cfg.rpcTimeout))
	}
	if err != nil {
		_ = p.segment.Close()
		return nil, &BackendError{Op: "init", Err: err}
	}

	p.logger.Info().
		Str(`backend`, kind.String()).
		Str(`segment`, path).
		Log(`fastsync enabled`)
	return p, nil
}

func (p *Process) fatal(handler func(*FatalError), err *FatalError) error {
	p.logger.Emerg().
		Err(err).
		Log(`fastsync fatal error`)
	handler(err)
	return err
}

// Backend returns the backend in use.
func (p *Process) Backend() backend.Kind { return p.backend.Kind() }

// Metrics returns a snapshot of the counters; all zero unless WithMetrics
// was set.
func (p *Process) Metrics() Metrics { return p.metrics.snapshot() }

// Close tears down every thread and cached handle, without telling the
// server: the server reclaims a process's references when it exits. Threads
// still registered exit as if by Thread.Exit, abandoning the mutexes they own.
func (p *Process) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	p.mu.Lock()
	threads := p.threads
	p.threads = nil
	p.mu.Unlock()
	for _, t := range threads {
		t.Exit()
	}
	p.cache.each(func(obj *object) {
		if p.cache.remove(obj.handle, obj) {
			obj.closed.Store(true)
			obj.release()
		}
	})
	err := p.backend.Close()
	if segErr := p.segment.Close(); err == nil {
		err = segErr
	}
	return err
}

// NewThread registers the thread with the given (non-zero) id, which waits,
// owns mutexes, and receives APCs. Mutex ownership is recorded by id in
// shared memory, so ids must be unique across every process sharing the
// segment, not only within p: two processes using the same id would each
// see the other's acquisitions as their own recursion.
func (p *Process) NewThread(tid uint32) (*Thread, error) {
	if tid == shm.NoOwner || tid == shm.Abandoned {
		return nil, fmt.Errorf("%w: thread id %d", ErrInvalidParameter, tid)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.threads == nil {
		return nil, ErrClosed
	}
	if _, ok := p.threads[tid]; ok {
		return nil, fmt.Errorf("%w: thread %d already exists", ErrInvalidParameter, tid)
	}
	waiter, err := p.backend.NewWaiter(tid)
	if err != nil {
		return nil, backendError("new waiter", err)
	}
	t := &Thread{p: p, waiter: waiter, tid: tid}
	p.threads[tid] = t
	return t, nil
}

// thread returns the registered thread with id tid, or nil.
func (p *Process) thread(tid uint32) *Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threads[tid]
}

// AbandonMutexes marks every mutex cached by this process and owned by tid
// abandoned, waking their waiters, and returns how many there were. It is
// what happens when a thread exits holding mutexes.
func (p *Process) AbandonMutexes(tid uint32) int {
	var n int
	p.cache.each(func(obj *object) {
		if obj.kind != KindMutex || !obj.acquire() {
			return
		}
		defer obj.release()
		if p.abandonMutex(obj, tid) {
			n++
		}
	})
	p.logAbandoned(tid, n)
	return n
}

// abandonMutex marks obj abandoned if tid owns it and wakes one waiter.
func (p *Process) abandonMutex(obj *object, tid uint32) bool {
	if !obj.record.Mutex().Abandon(tid) {
		return false
	}
	if err := obj.prim.Signal(1); err != nil {
		p.logger.Err().
			Err(err).
			Uint64(`handle`, uint64(obj.handle)).
			Log(`failed to wake waiters of abandoned mutex`)
	}
	return true
}

func (p *Process) logAbandoned(tid uint32, n int) {
	if n > 0 {
		p.logger.Debug().
			Uint64(`tid`, uint64(tid)).
			Int(`mutexes`, n).
			Log(`abandoned mutexes`)
	}
}

// interruptWaiters forces every waiting thread to re-check its wait set.
func (p *Process) interruptWaiters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.threads {
		_ = t.waiter.Interrupt()
	}
}

// object resolves h and takes a reference, which the caller must release.
func (p *Process) object(ctx context.Context, h Handle) (*object, error) {
	for {
		if p.closed.Load() {
			return nil, ErrClosed
		}
		if obj := p.cache.load(h); obj != nil {
			if obj.acquire() {
				return obj, nil
			}
			return nil, ErrInvalidHandle
		}
		if uint32(h)>>2 == 0 {
			return nil, ErrInvalidHandle
		}
		if !cacheable(h) {
			p.logger.Warning().
				Uint64(`handle`, uint64(h)).
				Log(`handle value is not cacheable`)
			return nil, ErrNotImplemented
		}
		closes := p.closes.Load()
		reply, err := p.srv.GetDescriptor(ctx, &server.DescriptorRequest{Handle: h})
		if err != nil {
			return nil, serverError(err)
		}
		obj, err := p.newObject(h, reply.Kind, reply.Index, reply.Descriptor)
		if err != nil {
			return nil, err
		}
		obj, inserted, err := p.install(obj, false)
		if err != nil {
			return nil, err
		}
		if !inserted || p.closes.Load() == closes {
			return obj, nil
		}
		// h may have been closed, or even reissued, after GetDescriptor
		p.logger.Debug().
			Uint64(`handle`, uint64(h)).
			Log(`handle closed while resolving, retrying`)
		if p.cache.remove(h, obj) {
			obj.release()
		}
		obj.release()
	}
}

// objects resolves every handle, releasing what it took on failure.
func (p *Process) objects(ctx context.Context, handles []Handle) ([]*object, error) {
	objs := make([]*object, 0, len(handles))
	for _, h := range handles {
		obj, err := p.object(ctx, h)
		if err != nil {
			releaseAll(objs)
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

func releaseAll(objs []*object) {
	for _, obj := range objs {
		obj.release()
	}
}

// newObject builds the local view of an object described by the server.
// Objects the backend cannot represent become kind None entries, so later
// lookups answer ErrNotImplemented without asking the server again.
func (p *Process) newObject(h Handle, kind ObjectKind, index uint32, d backend.Descriptor) (*object, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidHandle, kind)
	}
	if kind == KindNone {
		return newObject(h, KindNone, 0, shm.Record{}, nil), nil
	}
	var rec shm.Record
	if kind.HasRecord() {
		var err error
		if rec, err = p.segment.Record(index); err != nil {
			return nil, recordError(err)
		}
	}
	prim, err := p.backend.Import(index, d)
	if err != nil {
		if errors.Is(err, backend.ErrNotImplemented) {
			p.logger.Debug().
				Uint64(`handle`, uint64(h)).
				Str(`kind`, kind.String()).
				Log(`object not representable by backend`)
			return newObject(h, KindNone, 0, shm.Record{}, nil), nil
		}
		return nil, backendError("import", err)
	}
	return newObject(h, kind, index, rec, prim), nil
}

// install caches obj, or discards it in favour of an entry a racing thread
// installed first, and returns the cached object with a reference taken,
// plus whether obj itself was cached. A handle mid-close resolves to
// ErrInvalidHandle, unless fresh says the server has just issued it, in
// which case the previous holder's close is finishing and is waited out.
func (p *Process) install(obj *object, fresh bool) (*object, bool, error) {
	cur, ok := p.cache.insert(obj.handle, obj)
	for fresh && !ok && cur == closing {
		runtime.Gosched()
		cur, ok = p.cache.insert(obj.handle, obj)
	}
	if !ok {
		obj.release()
		switch cur {
		case nil:
			return nil, false, ErrNotImplemented
		case closing:
			return nil, false, ErrInvalidHandle
		}
		if cur.kind != obj.kind || cur.index != obj.index {
			p.logger.Warning().
				Uint64(`handle`, uint64(obj.handle)).
				Str(`cached`, cur.kind.String()).
				Str(`resolved`, obj.kind.String()).
				Log(`handle resolved to a different object than the cached one`)
		}
		obj = cur
	} else {
		p.logger.Trace().
			Uint64(`handle`, uint64(obj.handle)).
			Str(`kind`, obj.kind.String()).
			Uint64(`index`, uint64(obj.index)).
			Log(`cached handle`)
	}
	if !obj.acquire() {
		return nil, false, ErrInvalidHandle
	}
	return obj, ok, nil
}
