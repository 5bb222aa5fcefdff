// Package transport holds the datagram capability the proxy core needs from a
// socket. UDP is the only implementation; a stream listener would plug in here.
package transport

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/treemana/koala/reactor"
)

// ErrWouldBlock reports that a non-blocking operation found the socket not
// ready. It is never fatal.
var ErrWouldBlock = errors.New("transport: operation would block")

// Transport is a non-blocking datagram socket that can be watched by the
// reactor.
type Transport interface {
	reactor.Source

	// Recv reads one datagram into buf, or returns ErrWouldBlock.
	Recv(buf []byte) (int, net.Addr, error)

	// Send writes buf as one datagram to addr, or returns ErrWouldBlock.
	Send(buf []byte, addr net.Addr) (int, error)

	LocalAddr() net.Addr
	Close() error
}

// UDP wraps a *net.UDPConn and performs reads and writes directly on its file
// descriptor so they never park the calling goroutine.
type UDP struct {
	conn *net.UDPConn
	raw  syscall.RawConn
	v6   bool // the socket is AF_INET6, IPv4 peers are v4-mapped
}

// ListenUDP binds a UDP socket. A nil laddr picks an ephemeral port on all
// interfaces.
func ListenUDP(laddr *net.UDPAddr) (*UDP, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	u, err := NewUDP(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return u, nil
}

func NewUDP(conn *net.UDPConn) (*UDP, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("transport: raw conn: %w", err)
	}

	u := &UDP{conn: conn, raw: raw}
	if u.v6, err = isIPv6Socket(raw); err != nil {
		return nil, fmt.Errorf("transport: socket family: %w", err)
	}
	return u, nil
}

func (u *UDP) SyscallConn() (syscall.RawConn, error) { return u.raw, nil }

func (u *UDP) SetReadDeadline(t time.Time) error { return u.conn.SetReadDeadline(t) }

func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

func (u *UDP) Close() error { return u.conn.Close() }

// SameAddr reports whether a and b name the same UDP endpoint, treating an
// IPv4 address and its v4-mapped IPv6 form as equal.
func SameAddr(a, b net.Addr) bool {
	ua, ok := a.(*net.UDPAddr)
	if !ok {
		return false
	}
	ub, ok := b.(*net.UDPAddr)
	if !ok {
		return false
	}
	return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
}
