package shm

import (
	"errors"
)

var (
	// ErrInvalidIndex is returned for index 0, or an index beyond the
	// addressable range of the segment.
	ErrInvalidIndex = errors.New("shm: invalid record index")

	// ErrOutOfRange is returned when the page holding an index lies past the
	// current end of the segment file (the server has not grown it yet).
	ErrOutOfRange = errors.New("shm: record beyond end of segment")

	// ErrClosed is returned after Segment.Close.
	ErrClosed = errors.New("shm: segment closed")

	// ErrLimitExceeded is returned when a release would push a semaphore past
	// its maximum, or a mutex past its recursion limit.
	ErrLimitExceeded = errors.New("shm: limit exceeded")

	// ErrNotOwner is returned by Mutex.Release for a thread that does not own
	// the mutex.
	ErrNotOwner = errors.New("shm: mutex not owned by caller")
)
