package fastsync

import (
	"context"

	"github.com/joeycumines/go-fastsync/shm"
)

// SemaphoreInfo is a snapshot of a semaphore.
type SemaphoreInfo struct {
	Count uint32
	Max   uint32
	// Pending reports undelivered wake-ups on the backend primitive.
	Pending bool
}

// MutexInfo is a snapshot of a mutex.
type MutexInfo struct {
	// Owner is the owning thread, 0 when free or abandoned.
	Owner     uint32
	Count     uint32
	Abandoned bool
	Pending   bool
}

// EventInfo is a snapshot of an event.
type EventInfo struct {
	Manual   bool
	Signaled bool
	Pending  bool
}

func pending(obj *object) bool {
	ok, err := obj.prim.Pending()
	return err == nil && ok
}

// QuerySemaphore reads the semaphore's state without blocking.
func (p *Process) QuerySemaphore(ctx context.Context, h Handle) (SemaphoreInfo, error) {
	obj, err := p.object(ctx, h)
	if err != nil {
		return SemaphoreInfo{}, err
	}
	defer obj.release()
	if obj.kind != KindSemaphore {
		return SemaphoreInfo{}, kindError(obj)
	}
	sem := obj.record.Semaphore()
	return SemaphoreInfo{Count: sem.Count(), Max: sem.Max(), Pending: pending(obj)}, nil
}

// QueryMutex reads the mutex's state without blocking.
func (p *Process) QueryMutex(ctx context.Context, h Handle) (MutexInfo, error) {
	obj, err := p.object(ctx, h)
	if err != nil {
		return MutexInfo{}, err
	}
	defer obj.release()
	if obj.kind != KindMutex {
		return MutexInfo{}, kindError(obj)
	}
	owner, count := obj.record.Mutex().Load()
	info := MutexInfo{Owner: owner, Count: count, Pending: pending(obj)}
	if owner == shm.Abandoned {
		info.Owner, info.Abandoned = shm.NoOwner, true
	}
	return info, nil
}

// QueryEvent reads the event's state without blocking. For server-managed
// events the state is the primitive's.
func (p *Process) QueryEvent(ctx context.Context, h Handle) (EventInfo, error) {
	obj, err := p.object(ctx, h)
	if err != nil {
		return EventInfo{}, err
	}
	defer obj.release()
	switch obj.kind {
	case KindAutoEvent, KindManualEvent:
		return EventInfo{
			Manual:   obj.kind.ManualReset(),
			Signaled: obj.record.Event().Signaled(),
			Pending:  pending(obj),
		}, nil
	case KindServerAuto, KindServerManual:
		p := pending(obj)
		return EventInfo{Manual: obj.kind.ManualReset(), Signaled: p, Pending: p}, nil
	default:
		return EventInfo{}, kindError(obj)
	}
}
