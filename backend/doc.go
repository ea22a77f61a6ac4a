// Package backend abstracts the host primitive that blocked waiters sleep on.
//
// Two implementations exist, and exactly one is used for a given run:
//
//   - EventFD: one eventfd per object. Signal increments the counter, waiters
//     multiplex every object of a wait set (plus the thread's APC eventfd) in a
//     single poll(2).
//   - Port: one kernel (SysV) semaphore per waiting thread. A waiter registers
//     its wait set with a [Coordinator], re-checks shared state, then blocks on
//     its semaphore; signalling an object asks the coordinator to post the
//     semaphore of every registered waiter. [LoopCoordinator] implements the
//     coordinator as a message queue run on an event loop.
//
// Backends only carry wake-ups. The authoritative object state lives in shared
// memory (see package shm), so every wake is followed by a re-check and
// spurious wake-ups are always tolerated.
package backend
