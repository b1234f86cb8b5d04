//go:build windows

package profilestore

import "os"

// processLive reports whether pid refers to a live process. Windows has
// no signal-0 probe; FindProcess succeeding is the best available proxy,
// since OpenProcess there does the actual existence check.
func processLive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
