//go:build !windows

package process

import "syscall"

// DefaultStopSignal is sent by Stop when the caller does not choose one.
const DefaultStopSignal = syscall.SIGKILL

// Signal delivers sig to pid.
func Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	return syscall.Kill(pid, sig)
}
