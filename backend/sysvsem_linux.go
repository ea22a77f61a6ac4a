//go:build linux && (amd64 || arm64)

package backend

import (
	"errors"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// semctl commands, from <linux/sem.h>
const (
	semGetVal = 12
	semSetVal = 16
)

type sembuf struct {
	num uint16
	op  int16
	flg int16
}

// sysvSem is a single private SysV semaphore.
type sysvSem struct {
	id int
}

func newKernelSem() (kernelSem, error) {
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(unix.IPC_PRIVATE), 1, uintptr(unix.IPC_CREAT|0o600))
	if errno != 0 {
		return nil, &OpError{Op: "semget", Err: errno}
	}
	return &sysvSem{id: int(id)}, nil
}

func (s *sysvSem) ID() int { return s.id }

func (s *sysvSem) Reset() error {
	if _, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(s.id), 0, semSetVal, 0, 0, 0); errno != 0 {
		return &OpError{Op: "semctl", Err: errno}
	}
	return nil
}

func (s *sysvSem) Value() (int, error) {
	v, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(s.id), 0, semGetVal, 0, 0, 0)
	if errno != 0 {
		return 0, &OpError{Op: "semctl", Err: errno}
	}
	return int(v), nil
}

func (s *sysvSem) Post() error { return PostKernelSem(s.id) }

func (s *sysvSem) Wait(deadline time.Time) error {
	op := sembuf{op: -1}
	for attempt := 0; ; attempt++ {
		var ts *unix.Timespec
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return ErrTimeout
			}
			t := unix.NsecToTimespec(int64(d))
			ts = &t
		}
		_, _, errno := unix.Syscall6(unix.SYS_SEMTIMEDOP, uintptr(s.id), uintptr(unsafe.Pointer(&op)), 1, uintptr(unsafe.Pointer(ts)), 0, 0)
		switch {
		case errno == 0:
			return nil
		case errno == unix.EAGAIN:
			return ErrTimeout
		case errno == unix.EINTR:
			if attempt == 0 {
				continue
			}
			return nil
		default:
			return &OpError{Op: "semtimedop", Err: errno}
		}
	}
}

func (s *sysvSem) Close() error {
	if _, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(s.id), 0, uintptr(unix.IPC_RMID), 0, 0, 0); errno != 0 {
		return &OpError{Op: "semctl", Err: errno}
	}
	return nil
}

// PostKernelSem increments the SysV semaphore with the given id, waking its
// waiter. Posting a semaphore that was already removed is not an error.
func PostKernelSem(id int) error {
	op := sembuf{op: 1}
	_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(id), uintptr(unsafe.Pointer(&op)), 1)
	if errno != 0 {
		if errors.Is(errno, unix.EIDRM) || errors.Is(errno, unix.EINVAL) {
			return nil
		}
		return &OpError{Op: "semop", Err: errno}
	}
	return nil
}
