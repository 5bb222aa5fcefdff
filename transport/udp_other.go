//go:build !unix

package transport

import (
	"errors"
	"net"
	"os"
	"syscall"
	"time"
)

// grace is how long an operation may wait before it counts as would-block on
// platforms without direct descriptor access.
const grace = time.Millisecond

func isIPv6Socket(syscall.RawConn) (bool, error) { return false, nil }

func (u *UDP) Recv(buf []byte) (int, net.Addr, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(grace)); err != nil {
		return 0, nil, err
	}
	defer func() { _ = u.conn.SetReadDeadline(time.Time{}) }()

	n, addr, err := u.conn.ReadFromUDP(buf)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, nil, ErrWouldBlock
	}
	if err != nil {
		return 0, nil, err
	}
	return n, addr, nil
}

func (u *UDP) Send(buf []byte, addr net.Addr) (int, error) {
	if err := u.conn.SetWriteDeadline(time.Now().Add(grace)); err != nil {
		return 0, err
	}
	n, err := u.conn.WriteTo(buf, addr)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, ErrWouldBlock
	}
	return n, err
}
