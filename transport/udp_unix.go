//go:build unix

package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func isIPv6Socket(raw syscall.RawConn) (bool, error) {
	var v6 bool
	var serr error
	err := raw.Control(func(fd uintptr) {
		var sa unix.Sockaddr
		if sa, serr = unix.Getsockname(int(fd)); serr == nil {
			_, v6 = sa.(*unix.SockaddrInet6)
		}
	})
	if err != nil {
		return false, err
	}
	return v6, serr
}

func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// Recv performs a single recvfrom on the non-blocking descriptor. Datagrams
// longer than buf are truncated.
func (u *UDP) Recv(buf []byte) (int, net.Addr, error) {
	var n int
	var from unix.Sockaddr
	var rerr error
	err := u.raw.Read(func(fd uintptr) bool {
		n, from, rerr = unix.Recvfrom(int(fd), buf, 0)
		return true
	})
	if err != nil {
		return 0, nil, err
	}
	if wouldBlock(rerr) {
		return 0, nil, ErrWouldBlock
	}
	if rerr != nil {
		return 0, nil, os.NewSyscallError("recvfrom", rerr)
	}
	return n, sockaddrToUDP(from), nil
}

// Send performs a single sendto on the non-blocking descriptor.
func (u *UDP) Send(buf []byte, addr net.Addr) (int, error) {
	sa, err := u.sockaddr(addr)
	if err != nil {
		return 0, err
	}

	var serr error
	err = u.raw.Write(func(fd uintptr) bool {
		serr = unix.Sendto(int(fd), buf, 0, sa)
		return true
	})
	if err != nil {
		return 0, err
	}
	if wouldBlock(serr) {
		return 0, ErrWouldBlock
	}
	if serr != nil {
		return 0, os.NewSyscallError("sendto", serr)
	}
	return len(buf), nil
}

func (u *UDP) sockaddr(addr net.Addr) (unix.Sockaddr, error) {
	ua, ok := addr.(*net.UDPAddr)
	if !ok || ua == nil {
		return nil, fmt.Errorf("transport: unsupported address %v", addr)
	}

	if !u.v6 {
		ip4 := ua.IP.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("transport: %s is not reachable from an IPv4 socket", ua)
		}
		sa := &unix.SockaddrInet4{Port: ua.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}

	ip16 := ua.IP.To16()
	if ip16 == nil {
		return nil, fmt.Errorf("transport: invalid address %s", ua)
	}
	sa := &unix.SockaddrInet6{Port: ua.Port}
	copy(sa.Addr[:], ip16)
	if ua.Zone != "" {
		if ifi, err := net.InterfaceByName(ua.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa, nil
}

func sockaddrToUDP(sa unix.Sockaddr) *net.UDPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, sa.Addr[:])
		return &net.UDPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		var zone string
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				zone = ifi.Name
			}
		}
		return &net.UDPAddr{IP: ip, Port: sa.Port, Zone: zone}
	default:
		return nil
	}
}
