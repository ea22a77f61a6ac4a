package fastsync

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-fastsync/backend"
)

// Thread is one OS thread identity within a Process. Mutex ownership is per
// thread, and each thread owns the backend waiter it blocks on.
//
// A Thread's waits must not run concurrently with each other; QueueAPC may
// be called from anywhere.
type Thread struct {
	p      *Process
	waiter backend.Waiter
	// owned holds a reference to every mutex the thread acquired and has not
	// fully released, so Exit finds them even after their handles are closed
	owned   map[*object]struct{}
	ownedMu sync.Mutex
	tid     uint32
	closed  atomic.Bool
}

// ID returns the thread id.
func (t *Thread) ID() uint32 { return t.tid }

// QueueAPC interrupts the thread's current or next alertable wait, which
// returns WaitAPC. Alerts queue up: each is delivered to one wait.
func (t *Thread) QueueAPC() error {
	if t.closed.Load() {
		return ErrClosed
	}
	return backendError("alert", t.waiter.Alert())
}

// ReleaseMutex drops one level of the thread's ownership of the mutex,
// returning the previous recursion count. It fails with ErrNotOwner if the
// thread does not own it.
func (t *Thread) ReleaseMutex(ctx context.Context, h Handle) (uint32, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}
	obj, err := t.p.object(ctx, h)
	if err != nil {
		return 0, err
	}
	defer obj.release()
	return t.releaseMutex(obj)
}

func (t *Thread) releaseMutex(obj *object) (uint32, error) {
	prev, err := t.p.releaseMutex(obj, t.tid)
	if prev == 1 {
		t.disown(obj)
	}
	return prev, err
}

// own records an acquisition of the mutex obj that took it from another
// owner (or none), taking a reference held until disown or Exit.
func (t *Thread) own(obj *object) {
	if !obj.acquire() {
		return
	}
	t.ownedMu.Lock()
	defer t.ownedMu.Unlock()
	if _, ok := t.owned[obj]; ok || t.closed.Load() {
		obj.release()
		return
	}
	if t.owned == nil {
		t.owned = make(map[*object]struct{})
	}
	t.owned[obj] = struct{}{}
}

func (t *Thread) disown(obj *object) {
	t.ownedMu.Lock()
	_, ok := t.owned[obj]
	delete(t.owned, obj)
	t.ownedMu.Unlock()
	if ok {
		obj.release()
	}
}

// Exit abandons every mutex the thread still owns, then releases the
// thread. Later waiters on those mutexes observe WaitAbandoned, once.
func (t *Thread) Exit() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.ownedMu.Lock()
	owned := t.owned
	t.owned = nil
	t.ownedMu.Unlock()
	var n int
	for obj := range owned {
		if t.p.abandonMutex(obj, t.tid) {
			n++
		}
		obj.release()
	}
	t.p.logAbandoned(t.tid, n)
	// ownership this process never saw acquired, such as an initial owner
	// named before the thread registered
	t.p.AbandonMutexes(t.tid)

	t.p.mu.Lock()
	if t.p.threads != nil {
		delete(t.p.threads, t.tid)
	}
	t.p.mu.Unlock()
	_ = t.waiter.Close()
}
