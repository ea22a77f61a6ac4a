package shm

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

// RecordSize is the size in bytes of every object's state record.
const RecordSize = 16

// Record is a view over one object's RecordSize bytes of shared memory.
// Field access goes through the typed views (Semaphore, Mutex, Event), which
// only ever touch the record with atomic operations.
type Record struct {
	b []byte
}

// Valid reports whether the record addresses memory.
func (r Record) Valid() bool { return len(r.b) == RecordSize }

// Snapshot copies the raw record bytes, for diagnostics.
func (r Record) Snapshot() [RecordSize]byte {
	var out [RecordSize]byte
	copy(out[:], r.b)
	return out
}

// Zero clears the record.
func (r Record) Zero() {
	atomic.StoreUint64(r.u64(0), 0)
	atomic.StoreUint64(r.u64(8), 0)
}

func (r Record) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.b[off]))
}

func (r Record) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.b[off]))
}

// Semaphore returns the semaphore view of r.
func (r Record) Semaphore() Semaphore { return Semaphore{count: r.u32(0), max: r.u32(4)} }

// Mutex returns the mutex view of r.
func (r Record) Mutex() Mutex { return Mutex{word: r.u64(0)} }

// Event returns the event view of r.
func (r Record) Event() Event { return Event{signaled: r.u32(0), lock: r.u32(4)} }

// Semaphore is the {count, max} record. Invariant: count <= max.
type Semaphore struct {
	count *uint32
	max   *uint32
}

// Init writes the initial state. Must happen before the index is shared.
func (s Semaphore) Init(count, max uint32) {
	atomic.StoreUint32(s.max, max)
	atomic.StoreUint32(s.count, count)
}

// Count returns the current count.
func (s Semaphore) Count() uint32 { return atomic.LoadUint32(s.count) }

// Max returns the maximum count.
func (s Semaphore) Max() uint32 { return atomic.LoadUint32(s.max) }

// TryAcquire decrements the count if it is positive.
func (s Semaphore) TryAcquire() bool {
	for {
		c := atomic.LoadUint32(s.count)
		if c == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(s.count, c, c-1) {
			return true
		}
	}
}

// Release adds n to the count, returning the previous count. It fails with
// ErrLimitExceeded, leaving the count untouched, if the result would exceed
// max.
func (s Semaphore) Release(n uint32) (uint32, error) {
	max := atomic.LoadUint32(s.max)
	for {
		c := atomic.LoadUint32(s.count)
		if uint64(c)+uint64(n) > uint64(max) {
			return c, ErrLimitExceeded
		}
		if atomic.CompareAndSwapUint32(s.count, c, c+n) {
			return c, nil
		}
	}
}

// Mutex owner sentinels.
const (
	// NoOwner marks an unowned mutex.
	NoOwner uint32 = 0
	// Abandoned marks a mutex whose owner exited while holding it.
	Abandoned uint32 = math.MaxUint32
	// MaxRecursion is the deepest recursive acquisition allowed.
	MaxRecursion uint32 = math.MaxInt32
)

// AcquireResult is the outcome of Mutex.TryAcquire.
type AcquireResult uint8

const (
	// AcquireFailed means another thread owns the mutex.
	AcquireFailed AcquireResult = iota
	// Acquired means the caller now owns the mutex.
	Acquired
	// AcquiredAbandoned means the caller now owns a mutex that was
	// abandoned; only one acquirer ever observes this per abandonment.
	AcquiredAbandoned
)

// Mutex is the {owner, recursion} record, packed into one 64-bit word so
// owner == NoOwner and recursion == 0 always change together.
type Mutex struct {
	word *uint64
}

func packMutex(owner, count uint32) uint64 { return uint64(count)<<32 | uint64(owner) }

// UnpackMutex splits a raw mutex word, as returned by TryAcquire.
func UnpackMutex(w uint64) (owner, count uint32) { return uint32(w), uint32(w >> 32) }

// Init writes the initial state; owner NoOwner leaves the mutex free.
func (m Mutex) Init(owner uint32) {
	if owner == NoOwner {
		atomic.StoreUint64(m.word, 0)
		return
	}
	atomic.StoreUint64(m.word, packMutex(owner, 1))
}

// Load returns the owner and recursion count.
func (m Mutex) Load() (owner, count uint32) { return UnpackMutex(atomic.LoadUint64(m.word)) }

// Available reports whether tid could acquire the mutex right now.
func (m Mutex) Available(tid uint32) bool {
	owner, _ := m.Load()
	return owner == NoOwner || owner == tid || owner == Abandoned
}

// TryAcquire attempts to take the mutex for tid, recursively if tid already
// owns it. prev is the raw word before the acquisition, for Restore.
func (m Mutex) TryAcquire(tid uint32) (res AcquireResult, prev uint64, err error) {
	for {
		prev = atomic.LoadUint64(m.word)
		owner, count := UnpackMutex(prev)
		var next uint64
		switch owner {
		case tid:
			if count >= MaxRecursion {
				return AcquireFailed, prev, ErrLimitExceeded
			}
			next, res = packMutex(tid, count+1), Acquired
		case NoOwner:
			next, res = packMutex(tid, 1), Acquired
		case Abandoned:
			next, res = packMutex(tid, 1), AcquiredAbandoned
		default:
			return AcquireFailed, prev, nil
		}
		if atomic.CompareAndSwapUint64(m.word, prev, next) {
			return res, prev, nil
		}
	}
}

// Restore undoes a TryAcquire by tid that returned prev, provided nothing but
// that acquisition happened since. It reports whether the mutex became
// available to other threads.
func (m Mutex) Restore(tid uint32, prev uint64) bool {
	for {
		cur := atomic.LoadUint64(m.word)
		owner, _ := UnpackMutex(cur)
		if owner != tid {
			return false
		}
		if atomic.CompareAndSwapUint64(m.word, cur, prev) {
			prevOwner, _ := UnpackMutex(prev)
			return prevOwner != tid
		}
	}
}

// Release drops one level of recursion held by tid, returning the previous
// recursion count and whether the mutex is now free.
func (m Mutex) Release(tid uint32) (prevCount uint32, freed bool, err error) {
	for {
		cur := atomic.LoadUint64(m.word)
		owner, count := UnpackMutex(cur)
		if owner != tid || count == 0 {
			return 0, false, ErrNotOwner
		}
		next := packMutex(tid, count-1)
		if count == 1 {
			next = 0
		}
		if atomic.CompareAndSwapUint64(m.word, cur, next) {
			return count, count == 1, nil
		}
	}
}

// Abandon marks the mutex abandoned if tid owns it.
func (m Mutex) Abandon(tid uint32) bool {
	for {
		cur := atomic.LoadUint64(m.word)
		if owner, _ := UnpackMutex(cur); owner != tid || tid == NoOwner {
			return false
		}
		if atomic.CompareAndSwapUint64(m.word, cur, packMutex(Abandoned, 0)) {
			return true
		}
	}
}

// Event is the {signaled, lock} record.
type Event struct {
	signaled *uint32
	lock     *uint32
}

// Init writes the initial state.
func (e Event) Init(signaled bool) {
	atomic.StoreUint32(e.lock, 0)
	atomic.StoreUint32(e.signaled, b2u(signaled))
}

// Signaled reports the current state.
func (e Event) Signaled() bool { return atomic.LoadUint32(e.signaled) != 0 }

// Set signals the event, returning the previous state.
func (e Event) Set() bool { return atomic.SwapUint32(e.signaled, 1) != 0 }

// Reset clears the event, returning the previous state.
func (e Event) Reset() bool { return atomic.SwapUint32(e.signaled, 0) != 0 }

// TryConsume clears the event if it is signaled (auto-reset grab).
func (e Event) TryConsume() bool { return atomic.CompareAndSwapUint32(e.signaled, 1, 0) }

// Locked reports whether the consistency lock is held.
func (e Event) Locked() bool { return atomic.LoadUint32(e.lock) != 0 }

// Lock acquires the consistency lock, spinning up to spin times before
// backing off with yields and then short sleeps. The lock is held only across
// a state store plus one wake syscall.
func (e Event) Lock(spin int) {
	if spin <= 0 {
		spin = DefaultSpin
	}
	for i := 0; ; i++ {
		if atomic.LoadUint32(e.lock) == 0 && atomic.CompareAndSwapUint32(e.lock, 0, 1) {
			return
		}
		switch {
		case i < spin:
			if i&0x3F == 0 {
				runtime.Gosched()
			}
		case i < spin*2:
			runtime.Gosched()
		default:
			d := time.Duration(i-spin*2+1) * time.Microsecond
			if d > time.Millisecond {
				d = time.Millisecond
			}
			time.Sleep(d)
		}
	}
}

// Unlock releases the consistency lock.
func (e Event) Unlock() { atomic.StoreUint32(e.lock, 0) }

// DefaultSpin is the spin budget of Event.Lock when none is configured.
const DefaultSpin = 100

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
