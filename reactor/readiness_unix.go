//go:build unix

package reactor

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// peekReadable reports whether a datagram (or a pending socket error) is
// waiting, without consuming it.
func peekReadable(rc syscall.RawConn) bool {
	var b [1]byte
	var readable bool
	err := rc.Control(func(fd uintptr) {
		_, _, perr := unix.Recvfrom(int(fd), b[:], unix.MSG_PEEK)
		readable = !wouldBlock(perr)
	})
	return err == nil && readable
}

// waitReadable parks in the runtime poller until the socket is readable. It
// returns false when the wait was cut short by a read deadline or close.
func waitReadable(rc syscall.RawConn, _ <-chan struct{}) bool {
	var b [1]byte
	err := rc.Read(func(fd uintptr) bool {
		_, _, perr := unix.Recvfrom(int(fd), b[:], unix.MSG_PEEK)
		return !wouldBlock(perr)
	})
	return err == nil
}
