//go:build !unix

package reactor

import (
	"syscall"
	"time"
)

// pollInterval bounds how often a readable interest wakes up on platforms
// without a peek primitive. Every wakeup may be spurious.
const pollInterval = 5 * time.Millisecond

func peekReadable(syscall.RawConn) bool { return false }

func waitReadable(_ syscall.RawConn, cancel <-chan struct{}) bool {
	t := time.NewTimer(pollInterval)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-cancel:
		return false
	}
}
