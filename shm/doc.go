// Package shm maps the shared synchronization segment and exposes typed,
// offset-based views over the fixed-size state record of each object.
//
// # Layout
//
// The segment is a single file (normally under /dev/shm) shared by every
// cooperating process. It is divided into pages of [Segment.PageSize] bytes,
// each holding PageSize/[RecordSize] records. An object's record lives at byte
// offset index*RecordSize, where index is the small integer handed out by the
// coordinating server. Index 0 is reserved and never addresses a record.
//
// Pages are mapped lazily, on first access, and once mapped stay mapped for
// the lifetime of the [Segment]. Concurrent first accesses race on a
// compare-and-swap of the page pointer; the loser unmaps its duplicate.
//
// # Records
//
// Every record is [RecordSize] bytes and 8-byte aligned:
//
//	Semaphore  [0:4] count   [4:8] max
//	Mutex      [0:8] owner (low 32 bits) | recursion count (high 32 bits)
//	Event      [0:4] signaled [4:8] consistency lock
//
// All mutations are single atomic operations on those words. The only lock is
// the per-event consistency flag, used by manual-reset events so that set and
// reset never interleave.
package shm
