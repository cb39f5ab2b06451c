package process

import (
	"os"
	"syscall"
)

// IsProcessAlive checks if a process with the given PID is still running.
// It uses a signal-sending method that works on Unix-like systems (macOS, Linux).
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	// Find never fails on Unix even when the process doesn't exist.
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks for existence without delivering a signal. EPERM means
	// the process exists but is owned by someone else; it still counts as alive.
	err = proc.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}
