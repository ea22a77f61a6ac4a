package fastsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-fastsync/backend"
	"github.com/joeycumines/go-fastsync/shm"
)

// MaxWaitObjects is the most handles a single wait accepts.
const MaxWaitObjects = 64

// WaitStatus is how a wait ended.
type WaitStatus uint8

const (
	// WaitObject means the object at WaitResult.Index was acquired (for
	// wait-all, every object was).
	WaitObject WaitStatus = iota
	// WaitAbandoned is WaitObject where the object at Index is a mutex whose
	// previous owner exited holding it. Reported once per abandonment.
	WaitAbandoned
	// WaitTimeout means the deadline passed; no object state was changed.
	WaitTimeout
	// WaitAPC means an APC interrupted an alertable wait.
	WaitAPC
)

func (s WaitStatus) String() string {
	switch s {
	case WaitObject:
		return "object"
	case WaitAbandoned:
		return "abandoned"
	case WaitTimeout:
		return "timeout"
	case WaitAPC:
		return "apc"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// WaitOptions control a wait.
type WaitOptions struct {
	// Deadline is when the wait gives up with WaitTimeout. The zero value
	// waits forever; a time in the past only polls.
	Deadline time.Time
	// All waits for every object instead of any one.
	All bool
	// Alertable lets QueueAPC interrupt the wait.
	Alertable bool
}

// WaitResult is the outcome of a successful wait.
type WaitResult struct {
	Index  int
	Status WaitStatus
}

// Wait blocks until one (or, with opts.All, every) object in handles is
// acquired, the deadline passes, or an APC arrives.
//
// ctx bounds only the server calls needed to resolve handles not yet
// cached; the wait itself ends on its deadline. If any handle cannot be
// served by the fast path the wait goes to the fallback (WithFallback), or
// fails with ErrNotImplemented when there is none. Closing a waited handle
// from another goroutine fails the wait with ErrInvalidHandle.
func (t *Thread) Wait(ctx context.Context, handles []Handle, opts WaitOptions) (WaitResult, error) {
	if t.closed.Load() {
		return WaitResult{}, ErrClosed
	}
	if len(handles) == 0 || len(handles) > MaxWaitObjects {
		return WaitResult{}, fmt.Errorf("%w: %d wait objects", ErrInvalidParameter, len(handles))
	}
	objs, err := t.p.objects(ctx, handles)
	if err != nil {
		return t.fallback(ctx, handles, opts, err)
	}
	defer releaseAll(objs)
	for _, obj := range objs {
		if obj.kind == KindNone {
			return t.fallback(ctx, handles, opts, ErrNotImplemented)
		}
	}
	if opts.All {
		if err := checkDistinct(objs); err != nil {
			return WaitResult{}, err
		}
	}
	return t.wait(objs, opts)
}

// WaitOne waits for a single object.
func (t *Thread) WaitOne(ctx context.Context, h Handle, deadline time.Time) (WaitResult, error) {
	return t.Wait(ctx, []Handle{h}, WaitOptions{Deadline: deadline})
}

// SignalAndWait signals one object (releasing a semaphore by 1, releasing a
// mutex owned by the thread, or setting an event) then waits for another.
// Both handles are resolved before anything is signalled.
func (t *Thread) SignalAndWait(ctx context.Context, signal, wait Handle, alertable bool, deadline time.Time) (WaitResult, error) {
	if t.closed.Load() {
		return WaitResult{}, ErrClosed
	}
	objs, err := t.p.objects(ctx, []Handle{signal, wait})
	if err != nil {
		return WaitResult{}, err
	}
	defer releaseAll(objs)
	if objs[1].kind == KindNone {
		return WaitResult{}, ErrNotImplemented
	}
	if err := t.p.signalObject(objs[0], t); err != nil {
		return WaitResult{}, err
	}
	return t.wait(objs[1:], WaitOptions{Deadline: deadline, Alertable: alertable})
}

func (t *Thread) fallback(ctx context.Context, handles []Handle, opts WaitOptions, err error) (WaitResult, error) {
	if !errors.Is(err, ErrNotImplemented) || t.p.fallback == nil {
		return WaitResult{}, err
	}
	t.p.metrics.fellBack()
	t.p.logger.Debug().
		Uint64(`tid`, uint64(t.tid)).
		Int(`handles`, len(handles)).
		Log(`wait delegated to fallback`)
	return t.p.fallback.Wait(ctx, t.tid, handles, opts)
}

// checkDistinct rejects wait-all sets naming one object twice.
func checkDistinct(objs []*object) error {
	for i := range objs {
		for j := range i {
			a, b := objs[i], objs[j]
			if a == b || (a.index != 0 && a.index == b.index) {
				return fmt.Errorf("%w: duplicate wait objects %d and %d", ErrInvalidParameter, j, i)
			}
		}
	}
	return nil
}

func (t *Thread) wait(objs []*object, opts WaitOptions) (res WaitResult, err error) {
	t.p.metrics.waited()
	w := waitState{
		t:       t,
		objs:    objs,
		prims:   make([]backend.Primitive, len(objs)),
		drained: make([]bool, len(objs)),
		opts:    opts,
	}
	for i, obj := range objs {
		w.prims[i] = obj.prim
	}
	defer w.passOn()
	if opts.All {
		res, err = w.waitAll()
	} else {
		res, err = w.waitAny()
	}
	if err == nil {
		t.p.metrics.result(res.Status)
	}
	return res, err
}

// waitState is one wait call in progress.
type waitState struct {
	t       *Thread
	objs    []*object
	prims   []backend.Primitive
	drained []bool
	opts    WaitOptions
}

func (w *waitState) expired() bool {
	return !w.opts.Deadline.IsZero() && !time.Now().Before(w.opts.Deadline)
}

// alerted consumes a pending APC, for alertable waits.
func (w *waitState) alerted() (bool, error) {
	if !w.opts.Alertable {
		return false, nil
	}
	ok, err := w.t.waiter.TakeAlert()
	return ok, backendError("alert", err)
}

// block sleeps on the given members of the wait set until woken, returning
// whether the deadline passed.
func (w *waitState) block(first, last int) (timedOut bool, err error) {
	tid := w.t.tid
	objs := w.objs[first:last]
	err = w.t.waiter.Wait(w.prims[first:last], w.opts.Alertable, w.opts.Deadline, func() bool {
		for _, obj := range objs {
			if obj.closed.Load() || obj.ready(tid) {
				return true
			}
		}
		return false
	})
	switch {
	case err == nil:
	case errors.Is(err, backend.ErrTimeout):
		return true, nil
	default:
		return false, backendError("wait", err)
	}
	for i := first; i < last; i++ {
		obj := w.objs[i]
		if !obj.consuming() {
			continue
		}
		n, err := obj.prim.Consume()
		if err != nil {
			return false, backendError("consume", err)
		}
		if n > 0 {
			w.drained[i] = true
		}
	}
	return false, nil
}

// passOn re-issues a wake-up for every object whose wake-ups this wait
// drained and that another thread could still acquire, so a drained signal
// meant for someone else is never lost.
func (w *waitState) passOn() {
	for i, obj := range w.objs {
		if w.drained[i] && !obj.closed.Load() && obj.readyForOthers() {
			_ = obj.prim.Signal(1)
		}
	}
}

func (w *waitState) waitAny() (WaitResult, error) {
	tid := w.t.tid
	woken := false
	for {
		if ok, err := w.alerted(); err != nil {
			return WaitResult{}, err
		} else if ok {
			return WaitResult{Status: WaitAPC}, nil
		}
		for i, obj := range w.objs {
			if obj.closed.Load() {
				return WaitResult{}, ErrInvalidHandle
			}
			g, ok, err := obj.tryGrab(tid)
			if err != nil {
				return WaitResult{}, err
			}
			if ok {
				g.commit(w.t)
				return WaitResult{Index: i, Status: g.status()}, nil
			}
		}
		if woken {
			w.t.p.metrics.spurious()
			w.t.p.logger.Trace().
				Limit().
				Uint64(`tid`, uint64(tid)).
				Log(`spurious wake-up`)
		}
		if w.expired() {
			return WaitResult{Status: WaitTimeout}, nil
		}
		timedOut, err := w.block(0, len(w.objs))
		if err != nil {
			return WaitResult{}, err
		}
		if timedOut {
			return WaitResult{Status: WaitTimeout}, nil
		}
		woken = true
	}
}

// waitAll observes every object ready, verifies they are ready at once,
// then grabs them all; losing any grab rolls back the others and restarts.
func (w *waitState) waitAll() (WaitResult, error) {
	tid := w.t.tid
	grabs := make([]grab, 0, len(w.objs))
	for {
		for i, obj := range w.objs {
			for {
				if ok, err := w.alerted(); err != nil {
					return WaitResult{}, err
				} else if ok {
					return WaitResult{Status: WaitAPC}, nil
				}
				if obj.closed.Load() {
					return WaitResult{}, ErrInvalidHandle
				}
				if obj.ready(tid) {
					break
				}
				if w.expired() {
					return WaitResult{Status: WaitTimeout}, nil
				}
				timedOut, err := w.block(i, i+1)
				if err != nil {
					return WaitResult{}, err
				}
				if timedOut {
					return WaitResult{Status: WaitTimeout}, nil
				}
			}
		}

		if !w.allReady() {
			w.restart("not simultaneously ready")
			continue
		}

		grabs = grabs[:0]
		var failed bool
		for _, obj := range w.objs {
			g, ok, err := obj.tryGrab(tid)
			if err != nil || !ok {
				for j := len(grabs) - 1; j >= 0; j-- {
					grabs[j].undo(tid)
				}
				if err != nil {
					return WaitResult{}, err
				}
				failed = true
				break
			}
			grabs = append(grabs, g)
		}
		if failed {
			w.restart("lost a grab")
			continue
		}

		for _, g := range grabs {
			g.commit(w.t)
		}
		for i, g := range grabs {
			if g.abandoned {
				return WaitResult{Index: i, Status: WaitAbandoned}, nil
			}
		}
		return WaitResult{Status: WaitObject}, nil
	}
}

func (w *waitState) allReady() bool {
	for _, obj := range w.objs {
		if obj.closed.Load() || !obj.ready(w.t.tid) {
			return false
		}
	}
	return true
}

func (w *waitState) restart(reason string) {
	w.t.p.metrics.retried()
	w.t.p.logger.Debug().
		Limit().
		Uint64(`tid`, uint64(w.t.tid)).
		Str(`reason`, reason).
		Log(`wait-all restarted`)
}

// commit records a mutex acquisition that made t the owner.
func (g grab) commit(t *Thread) {
	if g.obj.kind != KindMutex {
		return
	}
	if owner, _ := shm.UnpackMutex(g.prev); owner != t.tid {
		t.own(g.obj)
	}
}

func (g grab) status() WaitStatus {
	if g.abandoned {
		return WaitAbandoned
	}
	return WaitObject
}
