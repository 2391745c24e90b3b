package pty

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// SignalGroup sends sig to the process group led by pid, falling back to
// the single process when pid does not lead a group.
func SignalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}
