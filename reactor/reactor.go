package reactor

import (
	"errors"
	"strings"
	"syscall"
	"time"
)

var (
	ErrClosed        = errors.New("reactor: loop closed")
	ErrRunning       = errors.New("reactor: loop already running")
	ErrRegistered    = errors.New("reactor: token already registered")
	ErrNotRegistered = errors.New("reactor: token not registered")
)

// Token identifies a registered source inside the loop.
type Token int

// Ready is a set of readiness kinds, used both as interest and as the
// readiness delivered with an event.
type Ready uint8

const (
	Readable Ready = 1 << iota
	Writable
)

func (r Ready) IsReadable() bool { return r&Readable != 0 }
func (r Ready) IsWritable() bool { return r&Writable != 0 }

func (r Ready) String() string {
	var parts []string
	if r.IsReadable() {
		parts = append(parts, "readable")
	}
	if r.IsWritable() {
		parts = append(parts, "writable")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// TimerID identifies a scheduled timeout.
type TimerID uint64

// Source is anything the loop can watch for readiness. *net.UDPConn satisfies it.
type Source interface {
	SyscallConn() (syscall.RawConn, error)
	SetReadDeadline(t time.Time) error
}

// Registry manages edge-triggered, one-shot registrations. A registration fires
// at most once per arm and has to be re-armed with Reregister afterwards.
type Registry interface {
	Register(src Source, token Token, interest Ready) error
	Reregister(src Source, token Token, interest Ready) error
	Deregister(token Token) error
}

// EventLoop is the view of the loop handed to a Handler.
type EventLoop interface {
	Registry
	ScheduleTimeout(token Token, after time.Duration) TimerID
	CancelTimeout(id TimerID) bool
	Shutdown()
}

// Handler receives every notification of the loop, always on the loop goroutine.
type Handler interface {
	Ready(loop EventLoop, token Token, ready Ready)
	Timeout(loop EventLoop, token Token)
	Notify(loop EventLoop, msg interface{})
}
