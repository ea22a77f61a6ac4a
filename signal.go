package fastsync

import (
	"context"
	"fmt"
	"runtime"
)

// kindError is the error for an operation on an object of the wrong kind.
func kindError(obj *object) error {
	if obj.kind == KindNone {
		return ErrNotImplemented
	}
	return fmt.Errorf("%w: handle %d is a %s", ErrTypeMismatch, obj.handle, obj.kind)
}

// ReleaseSemaphore adds count to the semaphore, returning the previous
// count. If the result would exceed the maximum it fails with
// ErrLimitExceeded and changes nothing.
func (p *Process) ReleaseSemaphore(ctx context.Context, h Handle, count uint32) (uint32, error) {
	if count == 0 {
		return 0, fmt.Errorf("%w: release count 0", ErrInvalidParameter)
	}
	obj, err := p.object(ctx, h)
	if err != nil {
		return 0, err
	}
	defer obj.release()
	if obj.kind != KindSemaphore {
		return 0, kindError(obj)
	}
	prev, err := obj.record.Semaphore().Release(count)
	if err != nil {
		return prev, recordError(err)
	}
	return prev, backendError("signal", obj.prim.Signal(uint64(count)))
}

// eventObject resolves h as a client-managed event.
func (p *Process) eventObject(ctx context.Context, h Handle) (*object, error) {
	obj, err := p.object(ctx, h)
	if err != nil {
		return nil, err
	}
	switch obj.kind {
	case KindAutoEvent, KindManualEvent:
		return obj, nil
	case KindServerAuto, KindServerManual:
		obj.release()
		return nil, ErrNotImplemented
	default:
		obj.release()
		return nil, kindError(obj)
	}
}

// SetEvent signals the event, returning whether it was already signalled.
func (p *Process) SetEvent(ctx context.Context, h Handle) (bool, error) {
	obj, err := p.eventObject(ctx, h)
	if err != nil {
		return false, err
	}
	defer obj.release()
	return p.setEvent(obj)
}

func (p *Process) setEvent(obj *object) (bool, error) {
	ev := obj.record.Event()
	if obj.kind == KindManualEvent {
		ev.Lock(p.spin)
		defer ev.Unlock()
		prev := ev.Set()
		if prev {
			return prev, nil
		}
		return prev, backendError("signal", obj.prim.Signal(1))
	}
	// always signal: a waiter may have grabbed the previous set already
	prev := ev.Set()
	return prev, backendError("signal", obj.prim.Signal(1))
}

// ResetEvent clears the event, returning whether it was signalled, and
// drains pending wake-ups so no stale wake reaches a later waiter.
func (p *Process) ResetEvent(ctx context.Context, h Handle) (bool, error) {
	obj, err := p.eventObject(ctx, h)
	if err != nil {
		return false, err
	}
	defer obj.release()
	return p.resetEvent(obj)
}

func (p *Process) resetEvent(obj *object) (bool, error) {
	ev := obj.record.Event()
	if obj.kind == KindManualEvent {
		ev.Lock(p.spin)
		defer ev.Unlock()
	}
	prev := ev.Reset()
	_, err := obj.prim.Consume()
	return prev, backendError("consume", err)
}

// PulseEvent sets then resets the event, yielding in between so blocked
// waiters get a chance to observe it. It is inherently racy: a waiter that
// is not yet blocked misses the pulse.
func (p *Process) PulseEvent(ctx context.Context, h Handle) (bool, error) {
	obj, err := p.eventObject(ctx, h)
	if err != nil {
		return false, err
	}
	defer obj.release()
	prev, err := p.setEvent(obj)
	if err != nil {
		return prev, err
	}
	runtime.Gosched()
	_, err = p.resetEvent(obj)
	return prev, err
}

// releaseMutex drops one level of tid's ownership, returning the previous
// recursion count. The last release wakes one waiter.
func (p *Process) releaseMutex(obj *object, tid uint32) (uint32, error) {
	if obj.kind != KindMutex {
		return 0, kindError(obj)
	}
	prev, freed, err := obj.record.Mutex().Release(tid)
	if err != nil {
		return 0, recordError(err)
	}
	if freed {
		return prev, backendError("signal", obj.prim.Signal(1))
	}
	return prev, nil
}

// signalObject performs the signal half of SignalAndWait.
func (p *Process) signalObject(obj *object, t *Thread) error {
	switch obj.kind {
	case KindSemaphore:
		if _, err := obj.record.Semaphore().Release(1); err != nil {
			return recordError(err)
		}
		return backendError("signal", obj.prim.Signal(1))
	case KindMutex:
		_, err := t.releaseMutex(obj)
		return err
	case KindAutoEvent, KindManualEvent:
		_, err := p.setEvent(obj)
		return err
	case KindServerAuto, KindServerManual:
		return ErrNotImplemented
	default:
		return kindError(obj)
	}
}

