// Package fastsync implements kernel-style synchronization objects
// (counting semaphores, recursive mutexes, auto-reset and manual-reset
// events) shared between processes, without a server round trip per wait or
// signal.
//
// Object state lives in a shared memory segment (package shm) that every
// cooperating process maps; each object owns one 16 byte record at an index
// handed out by the coordinating server. All state transitions are single
// atomic operations on that record, except manual-reset event set/reset,
// which serialize on a per-record spin lock. Blocked threads sleep on a host
// wake primitive (package backend) and always re-check the shared record
// after waking, so wake-ups are hints and never carry state.
//
// A Process talks to its server through the Server interface, which
// *server.Client implements. Handles are resolved once, through the server,
// then cached for the life of the handle. Each waiting OS thread is
// represented by a Thread, which owns its backend waiter and APC slot.
//
// Objects the fast path cannot represent answer ErrNotImplemented; the
// caller is then expected to use the server's own, always correct, wait
// path (see WithFallback).
package fastsync
