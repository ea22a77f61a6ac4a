package fastsync

import (
	"sync/atomic"

	"github.com/joeycumines/go-fastsync/backend"
	"github.com/joeycumines/go-fastsync/server"
	"github.com/joeycumines/go-fastsync/shm"
)

type (
	// Handle names one object instance in this process.
	Handle = server.Handle

	// ObjectKind tags every object.
	ObjectKind = server.ObjectKind
)

// Object kinds.
const (
	KindNone         = server.KindNone
	KindSemaphore    = server.KindSemaphore
	KindMutex        = server.KindMutex
	KindAutoEvent    = server.KindAutoEvent
	KindManualEvent  = server.KindManualEvent
	KindServerAuto   = server.KindServerAuto
	KindServerManual = server.KindServerManual
)

// object is the process-local view of one handle. The cache holds one
// reference; operations in flight hold more, so the primitive outlives a
// concurrent Close until they finish.
type object struct {
	prim   backend.Primitive
	record shm.Record
	refs   atomic.Int32
	closed atomic.Bool
	handle Handle
	index  uint32
	kind   ObjectKind
}

func newObject(h Handle, kind ObjectKind, index uint32, record shm.Record, prim backend.Primitive) *object {
	obj := &object{prim: prim, record: record, handle: h, index: index, kind: kind}
	obj.refs.Store(1)
	return obj
}

// acquire takes a reference, failing once the object has been released.
func (o *object) acquire() bool {
	for {
		n := o.refs.Load()
		if n <= 0 {
			return false
		}
		if o.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a reference, closing the primitive with the last one.
func (o *object) release() {
	if o.refs.Add(-1) == 0 && o.prim != nil {
		_ = o.prim.Close()
	}
}

// consuming reports whether a waiter must drain stale wake-ups before
// re-checking. Manual-reset kinds are drained by ResetEvent instead, and
// server kinds keep their state in the primitive itself.
func (o *object) consuming() bool {
	switch o.kind {
	case KindSemaphore, KindMutex, KindAutoEvent:
		return true
	default:
		return false
	}
}

// ready reports whether tid could grab the object right now.
func (o *object) ready(tid uint32) bool {
	switch o.kind {
	case KindSemaphore:
		return o.record.Semaphore().Count() > 0
	case KindMutex:
		return o.record.Mutex().Available(tid)
	case KindAutoEvent, KindManualEvent:
		return o.record.Event().Signaled()
	case KindServerAuto, KindServerManual:
		ok, err := o.prim.Pending()
		return err == nil && ok
	default:
		return false
	}
}

// readyForOthers reports whether a thread other than an owner could still
// grab the object, which decides whether a drained wake-up is passed on.
func (o *object) readyForOthers() bool {
	switch o.kind {
	case KindSemaphore:
		return o.record.Semaphore().Count() > 0
	case KindMutex:
		owner, _ := o.record.Mutex().Load()
		return owner == shm.NoOwner || owner == shm.Abandoned
	case KindAutoEvent:
		return o.record.Event().Signaled()
	default:
		return false
	}
}

// grab is one successful acquisition, which wait-all may need to undo.
type grab struct {
	obj       *object
	prev      uint64
	abandoned bool
}

// tryGrab attempts a non-blocking acquisition by tid.
func (o *object) tryGrab(tid uint32) (g grab, ok bool, err error) {
	g.obj = o
	switch o.kind {
	case KindSemaphore:
		return g, o.record.Semaphore().TryAcquire(), nil
	case KindMutex:
		res, prev, err := o.record.Mutex().TryAcquire(tid)
		if err != nil {
			return g, false, recordError(err)
		}
		g.prev, g.abandoned = prev, res == shm.AcquiredAbandoned
		return g, res != shm.AcquireFailed, nil
	case KindAutoEvent:
		return g, o.record.Event().TryConsume(), nil
	case KindManualEvent:
		return g, o.record.Event().Signaled(), nil
	case KindServerAuto:
		n, err := o.prim.Consume()
		if err != nil || n == 0 {
			return g, false, backendError("consume", err)
		}
		if n > 1 {
			if err := o.prim.Signal(n - 1); err != nil {
				return g, true, backendError("signal", err)
			}
		}
		return g, true, nil
	case KindServerManual:
		ok, err := o.prim.Pending()
		return g, ok, backendError("poll", err)
	default:
		return g, false, ErrNotImplemented
	}
}

// undo reverts a grab made by tid, waking waiters if the object became
// available again.
func (g grab) undo(tid uint32) {
	o := g.obj
	switch o.kind {
	case KindSemaphore:
		// a racing release may have filled the semaphore; the unit is dropped
		if _, err := o.record.Semaphore().Release(1); err == nil {
			_ = o.prim.Signal(1)
		}
	case KindMutex:
		if o.record.Mutex().Restore(tid, g.prev) {
			_ = o.prim.Signal(1)
		}
	case KindAutoEvent:
		o.record.Event().Set()
		_ = o.prim.Signal(1)
	case KindServerAuto:
		_ = o.prim.Signal(1)
	}
}
