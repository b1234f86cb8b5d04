//go:build !windows

package profilestore

import (
	"os"
	"syscall"
)

// processLive reports whether pid refers to a live process, via the
// conventional signal-0 liveness probe.
func processLive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
