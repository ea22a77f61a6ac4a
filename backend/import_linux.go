//go:build linux

package backend

import (
	"os"

	"golang.org/x/sys/unix"
)

// ImportFD duplicates the descriptor named by d into this process. A
// descriptor owned by this process is dup'd directly, anything else is
// fetched through pidfd_getfd(2), which requires ptrace access to the owner.
func ImportFD(d Descriptor) (int, error) {
	if d.FD < 0 {
		return -1, ErrInvalidDescriptor
	}
	if d.PID == 0 || d.PID == os.Getpid() {
		fd, err := unix.FcntlInt(uintptr(d.FD), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			return -1, &OpError{Op: "dup", Err: err}
		}
		return fd, nil
	}
	pidfd, err := unix.PidfdOpen(d.PID, 0)
	if err != nil {
		return -1, &OpError{Op: "pidfd_open", Err: err}
	}
	defer unix.Close(pidfd)
	fd, err := unix.PidfdGetfd(pidfd, d.FD, 0)
	if err != nil {
		return -1, &OpError{Op: "pidfd_getfd", Err: err}
	}
	return fd, nil
}
